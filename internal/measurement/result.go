// internal/measurement/result.go
package measurement

// Sample is the response of every measured channel at one frequency.
type Sample struct {
	Frequency float64
	Response  []complex128 // one per channel, in channel order
}

// Result is an acquired frequency response curve.
// It is immutable once produced: consumers must not modify it.
type Result struct {
	Channels []string
	Spacing  Spacing
	Samples  []Sample
}

// Len returns the number of frequency points.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Samples)
}

// Frequencies reconstructs the frequency axis of the curve.
func (r *Result) Frequencies() []float64 {
	out := make([]float64, r.Len())
	for i := range out {
		out[i] = r.Samples[i].Frequency
	}
	return out
}
