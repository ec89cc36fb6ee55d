// Package metrics holds the Prometheus collectors of the payment service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afripay_payment_requests_total",
			Help: "Total number of payment requests created",
		},
		[]string{"currency"},
	)

	OracleChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afripay_oracle_checks_total",
			Help: "Status oracle checks by outcome",
		},
		[]string{"outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "afripay_monitor_active_sessions",
			Help: "References currently being monitored",
		},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "afripay_monitor_tick_duration_seconds",
			Help:    "Duration of one monitor polling cycle",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afripay_payment_transitions_total",
			Help: "Terminal payment transitions by status",
		},
		[]string{"status"},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "afripay_event_publish_errors_total",
			Help: "Total number of payment event publish errors",
		},
	)
)
