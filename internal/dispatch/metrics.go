package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reminder outcomes recorded per invocation.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeErrored = "errored"
	OutcomeGaveUp  = "gave_up"

	// OutcomeRecovered counts stranded claims moved to their next occurrence.
	OutcomeRecovered = "recovered"
)

// Metrics holds Prometheus metrics for the dispatch job.
//
// Metrics:
//   - lifemoments_dispatch_runs_total{result} - invocations, "ok" or "failed"
//   - lifemoments_dispatch_reminders_total{outcome} - reminders by outcome
//   - lifemoments_dispatch_duration_seconds - invocation wall time
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RemindersTotal *prometheus.CounterVec
	Duration       prometheus.Histogram
}

// NewMetrics registers the dispatch metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifemoments_dispatch_runs_total",
				Help: "Total number of dispatch invocations",
			},
			[]string{"result"},
		),
		RemindersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifemoments_dispatch_reminders_total",
				Help: "Total number of due reminders processed, by outcome",
			},
			[]string{"outcome"},
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lifemoments_dispatch_duration_seconds",
				Help:    "Duration of dispatch invocations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
		),
	}
}

func (m *Metrics) recordRun(failed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.Duration.Observe(elapsed.Seconds())
}

func (m *Metrics) recordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.RemindersTotal.WithLabelValues(outcome).Inc()
}
