package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's Prometheus collectors. Each client has its
// own registry; serve it with promhttp.HandlerFor(m.Registry(), ...).
type Metrics struct {
	registry *prometheus.Registry

	UpdatesApplied     prometheus.Counter
	StateChanges       prometheus.Counter
	SubscriberFailures prometheus.Counter
	RPCDispatched      *prometheus.CounterVec
	CallsSent          prometheus.Counter
	Connectors         prometheus.Gauge
}

// NewMetrics creates the collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		UpdatesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_applied_total",
			Help:      "Total number of server updates applied",
		}),
		StateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_change_events_total",
			Help:      "Total number of state change events fired",
		}),
		SubscriberFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_failures_total",
			Help:      "Total number of state change handlers that failed",
		}),
		RPCDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_dispatched_total",
			Help:      "Total number of server-to-client calls dispatched",
		}, []string{"interface", "status"}),
		CallsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_sent_total",
			Help:      "Total number of client-to-server calls flushed",
		}),
		Connectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectors",
			Help:      "Number of registered connectors",
		}),
	}
	reg.MustRegister(
		m.UpdatesApplied,
		m.StateChanges,
		m.SubscriberFailures,
		m.RPCDispatched,
		m.CallsSent,
		m.Connectors,
	)
	return m
}

// Registry returns the Prometheus registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
