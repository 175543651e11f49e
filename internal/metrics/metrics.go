// Package metrics holds the process's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors the pipeline reports into.
type Metrics struct {
	JobsProcessed   *prometheus.CounterVec
	JobsInFlight    *prometheus.GaugeVec
	MessagesScanned prometheus.Counter
	JobsPruned      prometheus.Counter
}

// Outcome label values for JobsProcessed.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unmail",
			Name:      "jobs_processed_total",
			Help:      "Job attempts by queue and outcome.",
		}, []string{"queue", "outcome"}),
		JobsInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "unmail",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed, by queue.",
		}, []string{"queue"}),
		MessagesScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "unmail",
			Name:      "messages_scanned_total",
			Help:      "Mailbox messages processed by scan runs.",
		}),
		JobsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "unmail",
			Name:      "jobs_pruned_total",
			Help:      "Terminal job rows removed by retention pruning.",
		}),
	}
}
