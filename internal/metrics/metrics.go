// Package metrics exposes the bot's prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector the bot records.
type Metrics struct {
	Activations      *prometheus.CounterVec
	ProvisionWarning *prometheus.CounterVec
	InboundEvents    *prometheus.CounterVec
	RateLimited      prometheus.Counter
	DownstreamCalls  *prometheus.CounterVec
	BookingsCaptured prometheus.Counter
}

// New registers the collectors on reg. A nil reg yields unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookmebot",
			Name:      "activations_total",
			Help:      "Chat activations by outcome.",
		}, []string{"result"}),
		ProvisionWarning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookmebot",
			Name:      "provision_warnings_total",
			Help:      "Non-fatal provisioning failures by kind.",
		}, []string{"kind"}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookmebot",
			Name:      "inbound_events_total",
			Help:      "Inbound chat events by kind.",
		}, []string{"kind"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookmebot",
			Name:      "rate_limited_events_total",
			Help:      "Inbound events dropped by the per-chat limiter.",
		}),
		DownstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookmebot",
			Name:      "downstream_attempts_total",
			Help:      "Attempts against best-effort downstream services by outcome.",
		}, []string{"service", "result"}),
		BookingsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookmebot",
			Name:      "bookings_captured_total",
			Help:      "Booking intents recorded on sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Activations,
			m.ProvisionWarning,
			m.InboundEvents,
			m.RateLimited,
			m.DownstreamCalls,
			m.BookingsCaptured,
		)
	}
	return m
}
