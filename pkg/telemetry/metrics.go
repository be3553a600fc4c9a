// Package telemetry wires prometheus metrics and the OpenTelemetry tracer
// provider for the admission-control front door.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

// Metrics bundles every prometheus collector the router and gate emit.
type Metrics struct {
	RouterDecisions *prometheus.CounterVec
	RouterLatency   prometheus.Histogram

	GateActions   *prometheus.CounterVec
	GatePriority  prometheus.Histogram
	StageLatency  *prometheus.HistogramVec
	QueueDepth    prometheus.Gauge
	CurrentLoad   prometheus.Gauge
	TracesStored  prometheus.Counter
	BusPublishErr prometheus.Counter
}

// NewMetrics registers all collectors with the supplied registerer. Passing
// prometheus.DefaultRegisterer wires the standard /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RouterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_router_decisions_total",
			Help: "Routing decisions partitioned by decision, intent and reason code.",
		}, []string{"decision", "intent", "reason"}),
		RouterLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_router_duration_us",
			Help:    "Router execution time in microseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		GateActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_gate_actions_total",
			Help: "Gate decisions partitioned by action and band.",
		}, []string{"action", "band"}),
		GatePriority: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_gate_priority",
			Help:    "Calibrated salience priority distribution.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbiter_gate_stage_duration_us",
			Help:    "Per-stage gate pipeline latency in microseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"stage"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbiter_backpressure_queue_depth",
			Help: "Live queue depth seen by the backpressure manager.",
		}),
		CurrentLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbiter_backpressure_load",
			Help: "Recent arrivals over configured per-minute capacity.",
		}),
		TracesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_traces_stored_total",
			Help: "Decision traces written to the bounded history.",
		}),
		BusPublishErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_bus_publish_errors_total",
			Help: "Failed publications of routing envelopes.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RouterDecisions, m.RouterLatency,
			m.GateActions, m.GatePriority, m.StageLatency,
			m.QueueDepth, m.CurrentLoad, m.TracesStored, m.BusPublishErr,
		)
	}
	return m
}

// NewNopMetrics returns unregistered collectors, for tests and embedders that
// do not scrape.
func NewNopMetrics() *Metrics {
	return NewMetrics(nil)
}

// ObserveRouterDecision records one routing outcome.
func (m *Metrics) ObserveRouterDecision(result domain.RoutingResult) {
	if m == nil {
		return
	}
	intent := string(result.Intent)
	if intent == "" {
		intent = "none"
	}
	m.RouterDecisions.WithLabelValues(string(result.Decision), intent, result.Reason.Code).Inc()
	m.RouterLatency.Observe(float64(result.ExecutionTimeUS))
}

// ObserveGateDecision records one gate outcome.
func (m *Metrics) ObserveGateDecision(action domain.Action, band domain.Band, priority float64) {
	if m == nil {
		return
	}
	m.GateActions.WithLabelValues(string(action), string(band)).Inc()
	m.GatePriority.Observe(priority)
}
