// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fra"

// Metrics holds the collectors shared by the orchestration components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	measurements       *prometheus.CounterVec
	measurementSeconds prometheus.Histogram
	progressPoints     *prometheus.CounterVec
	motionLegs         *prometheus.CounterVec
	teardownErrors     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		measurements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Frequency response measurements by outcome.",
		}, []string{"outcome"}),
		measurementSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "measurement_duration_seconds",
			Help:      "Wall-clock duration of frequency response measurements.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		progressPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_points_total",
			Help:      "Frequency points reported by the measurement engine.",
		}, []string{"status"}),
		motionLegs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "motion_legs_total",
			Help:      "Back-and-forth legs by termination reason.",
		}, []string{"termination"}),
		teardownErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_errors_total",
			Help:      "Errors raised while releasing measurement resources.",
		}, []string{"step"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.measurements,
			m.measurementSeconds,
			m.progressPoints,
			m.motionLegs,
			m.teardownErrors,
		)
	}

	return m
}

func (m *Metrics) ObserveMeasurement(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.measurements.WithLabelValues(outcome).Inc()
	m.measurementSeconds.Observe(d.Seconds())
}

func (m *Metrics) ProgressPoint(failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.progressPoints.WithLabelValues(status).Inc()
}

func (m *Metrics) MotionLeg(termination string) {
	if m == nil {
		return
	}
	m.motionLegs.WithLabelValues(termination).Inc()
}

func (m *Metrics) TeardownError(step string) {
	if m == nil {
		return
	}
	m.teardownErrors.WithLabelValues(step).Inc()
}
