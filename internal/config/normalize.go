// internal/config/normalize.go
package config

import "strings"

const (
	DefaultOutputDir      = "Frequency Response"
	DefaultLogLevel       = "info"
	DefaultMetricsPath    = "/metrics"
	DefaultAxisName       = "Axis 1"
	DefaultTimeoutMs      = 1000
	DefaultPollIntervalMs = 20
	DefaultMoveTimeoutMs  = 10_000
	DefaultCeilingS       = 3 * 60 * 60
	DefaultSettlingTimeMs = 200
	DefaultSamplingHz     = 100_000
)

// DefaultMethods is the registry used when the config declares none.
func DefaultMethods() []MethodConfig {
	return []MethodConfig{
		{Name: "Open Loop", ClosedLoop: false, Capability: 0},
		{Name: "Closed Loop", ClosedLoop: true, Capability: 1},
	}
}

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	f := &cfg.FRA

	if f.OutputDir == "" {
		f.OutputDir = DefaultOutputDir
	}
	if f.LogLevel == "" {
		f.LogLevel = DefaultLogLevel
	}
	if f.Metrics.Path == "" {
		f.Metrics.Path = DefaultMetricsPath
	}

	// ---- axis ----
	if f.Axis.Driver == "" {
		f.Axis.Driver = DriverSim
	}
	if f.Axis.Name == "" {
		f.Axis.Name = DefaultAxisName
	}
	if f.Axis.TimeoutMs == 0 {
		f.Axis.TimeoutMs = DefaultTimeoutMs
	}
	if f.Axis.PollIntervalMs == 0 {
		f.Axis.PollIntervalMs = DefaultPollIntervalMs
	}
	if f.Axis.TimeScale == 0 {
		f.Axis.TimeScale = 1
	}

	// ---- methods ----
	if len(f.Methods) == 0 {
		f.Methods = DefaultMethods()
	}
	if f.Axis.Driver == DriverSim && len(f.Axis.SupportedMethods) == 0 {
		for _, m := range f.Methods {
			f.Axis.SupportedMethods = append(f.Axis.SupportedMethods, m.Name)
		}
	}

	// ---- measurement ----
	f.Measurement.Spacing = strings.ToLower(f.Measurement.Spacing)
	if f.Measurement.Spacing == "" {
		f.Measurement.Spacing = "linear"
	}
	if f.Measurement.SettlingTimeMs == 0 {
		f.Measurement.SettlingTimeMs = DefaultSettlingTimeMs
	}
	if f.Measurement.SamplingFrequencyHz == 0 {
		f.Measurement.SamplingFrequencyHz = DefaultSamplingHz
	}
	if f.Measurement.CeilingS == 0 {
		f.Measurement.CeilingS = DefaultCeilingS
	}

	// ---- motion ----
	if f.Motion.MoveTimeoutMs == 0 {
		f.Motion.MoveTimeoutMs = DefaultMoveTimeoutMs
	}
}
