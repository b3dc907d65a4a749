// metrics.go - Prometheus instrumentation for the lending API.
package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestSeconds  *prometheus.HistogramVec
	RejectedInputs  prometheus.Counter
	RateLimited     prometheus.Counter
	BatchesSettled  prometheus.Counter
	PendingDeposits prometheus.Gauge
}

// NewMetrics creates and registers the API collectors on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendingd",
			Name:      "requests_total",
			Help:      "API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		RequestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lendingd",
			Name:      "request_seconds",
			Help:      "API request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RejectedInputs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lendingd",
			Name:      "rejected_inputs_total",
			Help:      "Encrypted inputs rejected by binding or proof checks.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lendingd",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-account rate limiter.",
		}),
		BatchesSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lendingd",
			Name:      "batches_settled_total",
			Help:      "Batches settled through the liquidity vault.",
		}),
		PendingDeposits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lendingd",
			Name:      "pending_depositors",
			Help:      "Distinct depositors waiting in the open batch.",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestSeconds,
		m.RejectedInputs,
		m.RateLimited,
		m.BatchesSettled,
		m.PendingDeposits,
	)
	return m
}
