package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "kiln"
	metricsSubsystem = "orchestrator"
)

// Metrics are the orchestrator's Prometheus collectors.
type Metrics struct {
	// JobsTotal counts jobs reaching a terminal state, by state.
	JobsTotal *prometheus.CounterVec

	// AttemptsTotal counts engine runs, by outcome (ok, error).
	AttemptsTotal *prometheus.CounterVec

	// JobDurationSeconds observes the time from start to terminal state.
	JobDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "jobs_total",
				Help:      "Jobs that reached a terminal state, by state",
			},
			[]string{"state"},
		),

		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "job_attempts_total",
				Help:      "Engine runs made on behalf of jobs, by outcome",
			},
			[]string{"outcome"},
		),

		JobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "job_duration_seconds",
				Help:      "Wall time from job start to terminal state",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"state"},
		),
	}
}
