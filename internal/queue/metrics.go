package queue

import "github.com/prometheus/client_golang/prometheus"

// ProcessedTotal counts finished task handlings grouped by outcome.
var ProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_processed_total",
		Help: "Total tasks processed grouped by outcome",
	},
	[]string{"kind", "outcome"},
)

func init() {
	prometheus.MustRegister(ProcessedTotal)
}
