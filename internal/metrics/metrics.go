// Package metrics exposes client-side counters for transport and realtime
// activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all client counters. A nil *Metrics is safe to use; every
// method becomes a no-op, so components can take metrics optionally.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	authRefreshTotal prometheus.Counter
	reconnectsTotal  prometheus.Counter
	messagesTotal    *prometheus.CounterVec
}

// New creates metrics registered against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_requests_total",
			Help: "HTTP API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		authRefreshTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_auth_refresh_total",
			Help: "Token refresh attempts triggered by 401 responses.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_realtime_reconnects_total",
			Help: "Realtime connection attempts after a disconnect.",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_chat_messages_total",
			Help: "Chat messages by direction.",
		}, []string{"direction"}),
	}

	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.authRefreshTotal, m.reconnectsTotal, m.messagesTotal)
	}

	return m
}

// ObserveRequest records one API request outcome ("ok" or "error").
func (m *Metrics) ObserveRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveAuthRefresh records one token refresh attempt.
func (m *Metrics) ObserveAuthRefresh() {
	if m == nil {
		return
	}
	m.authRefreshTotal.Inc()
}

// ObserveReconnect records one realtime reconnect attempt.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// ObserveMessage records one chat message ("sent" or "received").
func (m *Metrics) ObserveMessage(direction string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(direction).Inc()
}
