package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the Prometheus collectors of one server. Each server owns its
// own registry so several servers can live in one process.
type Metrics struct {
	registry    *prometheus.Registry
	sessions    prometheus.Gauge
	connections *prometheus.CounterVec
	logins      *prometheus.CounterVec
	messages    *prometheus.CounterVec
	deliveries  prometheus.Counter
	evictions   prometheus.Counter
	malformed   prometheus.Counter
	storeErrors prometheus.Counter
}

// NewMetrics creates and registers the relay collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gorelay_sessions",
			Help: "Authenticated sessions currently registered.",
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gorelay_connections_total",
			Help: "Accepted connections by transport.",
		}, []string{"transport"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gorelay_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gorelay_messages_total",
			Help: "Chat messages accepted for relay by content type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gorelay_deliveries_total",
			Help: "Frames queued to recipients by broadcasts.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gorelay_evictions_total",
			Help: "Sessions removed because a write to them failed.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gorelay_malformed_total",
			Help: "Datagrams that could not be decoded.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gorelay_store_errors_total",
			Help: "Failed credential or persistence calls.",
		}),
	}

	m.registry.MustRegister(
		m.sessions, m.connections, m.logins, m.messages,
		m.deliveries, m.evictions, m.malformed, m.storeErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
