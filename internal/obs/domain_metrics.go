package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutSubmissionsTotal counts checkout submission outcomes.
	CheckoutSubmissionsTotal *prometheus.CounterVec
	// ReturnRedirectsTotal counts return-handler redirects by resolved state.
	ReturnRedirectsTotal *prometheus.CounterVec
	// NotificationWebhookTotal counts inbound gateway notification outcomes.
	NotificationWebhookTotal *prometheus.CounterVec
	// PollBatchesTotal counts polled status pages by outcome.
	PollBatchesTotal *prometheus.CounterVec
	// RelayDeliveriesTotal tracks relay callback outcomes.
	RelayDeliveriesTotal *prometheus.CounterVec
	// RelayAttemptLatency records relay attempt latency in milliseconds.
	RelayAttemptLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_submissions_total",
			Help:      "Count of checkout submission outcomes.",
		}, []string{"brand", "result"})
		ReturnRedirectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "return_redirects_total",
			Help:      "Count of return-handler redirects by resolved state.",
		}, []string{"state"})
		NotificationWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_webhook_total",
			Help:      "Count of processed gateway notifications by outcome.",
		}, []string{"result"})
		PollBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_batches_total",
			Help:      "Count of polled status pages by outcome.",
		}, []string{"result"})
		RelayDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_deliveries_total",
			Help:      "Count of relay callback delivery outcomes.",
		}, []string{"result"})
		RelayAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_attempt_duration_ms",
			Help:      "Latency for relay delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})

		mustRegisterCollector(reg, CheckoutSubmissionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutSubmissionsTotal = v
			}
		})
		mustRegisterCollector(reg, ReturnRedirectsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReturnRedirectsTotal = v
			}
		})
		mustRegisterCollector(reg, NotificationWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				NotificationWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, PollBatchesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PollBatchesTotal = v
			}
		})
		mustRegisterCollector(reg, RelayDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RelayDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, RelayAttemptLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				RelayAttemptLatency = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
