// internal/measurement/parameters.go
package measurement

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Spacing distributes the sampled frequencies across the configured range.
type Spacing uint16

const (
	Linear Spacing = iota
	Logarithmic
	Optimized
)

func (s Spacing) String() string {
	switch s {
	case Linear:
		return "linear"
	case Logarithmic:
		return "logarithmic"
	case Optimized:
		return "optimized"
	default:
		return fmt.Sprintf("spacing(%d)", uint16(s))
	}
}

// ParseSpacing accepts the names produced by String, case-insensitively.
func ParseSpacing(s string) (Spacing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "":
		return Linear, nil
	case "logarithmic", "log":
		return Logarithmic, nil
	case "optimized":
		return Optimized, nil
	}
	return 0, &ConfigurationError{Field: "spacing", Reason: fmt.Sprintf("unknown spacing %q", s)}
}

// Parameters configures one frequency response acquisition.
type Parameters struct {
	FrequencyMin float64 // Hz
	FrequencyMax float64 // Hz
	Steps        int
	Spacing      Spacing

	// ExcitationLimits holds one upper bound per measured signal.
	ExcitationLimits []float64

	SettlingTime   time.Duration
	SamplingPeriod time.Duration

	// Method is matched by exact name against the axis-supported registry entries.
	Method string
}

// Validate checks the parameter invariants. It performs no hardware access.
func (p Parameters) Validate() error {
	if p.FrequencyMin <= 0 || math.IsNaN(p.FrequencyMin) || math.IsNaN(p.FrequencyMax) || math.IsInf(p.FrequencyMax, 0) {
		return &ConfigurationError{Field: "frequency", Reason: fmt.Sprintf("invalid range [%g, %g]", p.FrequencyMin, p.FrequencyMax)}
	}
	if p.FrequencyMin > p.FrequencyMax {
		return &ConfigurationError{Field: "frequency", Reason: fmt.Sprintf("minimum %g exceeds maximum %g", p.FrequencyMin, p.FrequencyMax)}
	}
	if p.Steps < 1 {
		return &ConfigurationError{Field: "steps", Reason: fmt.Sprintf("must be >= 1, got %d", p.Steps)}
	}
	if p.Spacing > Optimized {
		return &ConfigurationError{Field: "spacing", Reason: p.Spacing.String()}
	}
	for i, l := range p.ExcitationLimits {
		if l < 0 || math.IsNaN(l) {
			return &ConfigurationError{Field: fmt.Sprintf("excitation_limits[%d]", i), Reason: fmt.Sprintf("must be >= 0, got %g", l)}
		}
	}
	if p.SettlingTime < 0 || p.SamplingPeriod < 0 {
		return &ConfigurationError{Field: "timing", Reason: "durations must be >= 0"}
	}
	if p.Method == "" {
		return &ConfigurationError{Field: "method", Reason: "no measurement method selected"}
	}
	return nil
}

// Frequencies returns the planned frequency grid, ascending, len == Steps.
func (p Parameters) Frequencies() []float64 {
	n := p.Steps
	if n < 1 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = p.FrequencyMin
		return out
	}

	switch p.Spacing {
	case Linear:
		step := (p.FrequencyMax - p.FrequencyMin) / float64(n-1)
		for i := range out {
			out[i] = p.FrequencyMin + float64(i)*step
		}
	default:
		ratio := p.FrequencyMax / p.FrequencyMin
		for i := range out {
			out[i] = p.FrequencyMin * math.Pow(ratio, float64(i)/float64(n-1))
		}
	}
	out[n-1] = p.FrequencyMax

	if p.Spacing == Optimized {
		snapToSamplePeriods(out, p.SamplingPeriod)
	}
	return out
}

// snapToSamplePeriods moves every frequency to the nearest one whose period
// is a whole number of sampling periods.
func snapToSamplePeriods(freqs []float64, period time.Duration) {
	if period <= 0 {
		return
	}
	fs := 1 / period.Seconds()
	for i, f := range freqs {
		k := math.Round(fs / f)
		if k < 2 {
			k = 2
		}
		freqs[i] = fs / k
	}
}
