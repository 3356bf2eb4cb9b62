// Package metrics exposes the agent's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"vn.io.arda/notification-agent/internal/realtime"
	"vn.io.arda/notification-agent/internal/store"
)

// Metrics holds the agent collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SocketConnected   prometheus.Gauge
	ReconnectAttempts prometheus.Gauge
	SocketErrors      prometheus.Counter
	Unread            prometheus.Gauge
	Records           prometheus.Gauge
	StoreChanges      *prometheus.CounterVec
}

// New registers all collectors. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SocketConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notification_agent_socket_connected",
			Help: "1 while the notification socket is open",
		}),
		ReconnectAttempts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notification_agent_reconnect_attempts",
			Help: "Consecutive reconnect attempts since the last successful open",
		}),
		SocketErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "notification_agent_socket_errors_total",
			Help: "Total number of socket and dial errors",
		}),
		Unread: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notification_agent_unread",
			Help: "Number of unread notifications held locally",
		}),
		Records: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notification_agent_records",
			Help: "Number of notifications held locally",
		}),
		StoreChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_agent_store_changes_total",
				Help: "Total number of applied store changes",
			},
			[]string{"kind"},
		),
	}
}

// ObserveState is a connection status watcher.
func (m *Metrics) ObserveState(s realtime.State) {
	connected := 0.0
	if s.Status == realtime.StatusConnected {
		connected = 1
	}
	m.SocketConnected.Set(connected)
	m.ReconnectAttempts.Set(float64(s.ReconnectAttempts))
}

// ObserveError is a connection error watcher.
func (m *Metrics) ObserveError(error) {
	m.SocketErrors.Inc()
}

// ObserveChange is a store listener.
func (m *Metrics) ObserveChange(c store.Change) {
	m.StoreChanges.WithLabelValues(string(c.Kind)).Inc()
	m.Unread.Set(float64(c.UnreadCount))
	m.Records.Set(float64(c.Total))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
