package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fulfillment"

// Metrics holds the collectors of the fulfillment flow. They are registered on
// the registry handed to New, so tests can use a private one.
type Metrics struct {
	ConfirmTotal    *prometheus.CounterVec
	ConfirmDuration prometheus.Histogram
	KeysSold        prometheus.Counter
	Stockouts       *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	GatewayRequests *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConfirmTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirm_total",
			Help:      "Payment confirmations by outcome.",
		}, []string{"outcome"}),
		ConfirmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_duration_seconds",
			Help:      "Time spent confirming a payment, gateway capture included.",
			Buckets:   prometheus.DefBuckets,
		}),
		KeysSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_sold_total",
			Help:      "Product keys moved to sold.",
		}),
		Stockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stockouts_total",
			Help:      "Confirmations that found a product without available keys.",
		}, []string{"product_id"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Key delivery mails by outcome.",
		}, []string{"outcome"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}

	reg.MustRegister(
		m.ConfirmTotal,
		m.ConfirmDuration,
		m.KeysSold,
		m.Stockouts,
		m.Notifications,
		m.GatewayRequests,
	)
	return m
}
