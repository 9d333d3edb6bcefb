// internal/sink/sink.go
package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tamzrod/frequency-response-automation/internal/measurement"
)

// Sink persists one acquired curve.
type Sink interface {
	Save(res *measurement.Result, path string) error
}

// CSV writes one row per frequency: the frequency, then the real and
// imaginary part of every channel.
type CSV struct{}

var _ Sink = CSV{}

// Save writes res to path, creating parent directories. It does not retry.
func (CSV) Save(res *measurement.Result, path string) (err error) {
	if res == nil {
		return errors.New("sink: nil result")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sink: create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sink: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("sink: close %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header(res.Channels)); err != nil {
		return fmt.Errorf("sink: write header: %w", err)
	}

	for i, s := range res.Samples {
		if len(s.Response) != len(res.Channels) {
			return fmt.Errorf("sink: sample %d has %d channels, want %d", i, len(s.Response), len(res.Channels))
		}
		row := make([]string, 0, 1+2*len(s.Response))
		row = append(row, formatFloat(s.Frequency))
		for _, c := range s.Response {
			row = append(row, formatFloat(real(c)), formatFloat(imag(c)))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("sink: write row %d: %w", i, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("sink: flush %s: %w", path, err)
	}
	return nil
}

func header(channels []string) []string {
	out := make([]string, 0, 1+2*len(channels))
	out = append(out, "frequency_hz")
	for _, ch := range channels {
		out = append(out, ch+"_re", ch+"_im")
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
