// Package metrics exposes zika's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/queue"
)

const namespace = "zika"

// Broker lifecycle event labels.
const (
	EventConnect    = "connect"
	EventReconnect  = "reconnect"
	EventDisconnect = "disconnect"
	EventClose      = "close"
	EventError      = "error"
	EventMessage    = "message"
)

var brokerEvents = []string{EventConnect, EventReconnect, EventDisconnect, EventClose, EventError, EventMessage}

// Metrics owns a private registry so tests and multiple instances do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	startTime      prometheus.Gauge
	brokerEvents   *prometheus.CounterVec
	payloadErrors  prometheus.Counter
	actions        *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	queueDepth     prometheus.Gauge
	queueDropped   prometheus.Counter
	busy           prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		startTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Start time of the process since unix epoch in seconds.",
		}),
		brokerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_events_total",
			Help:      "Broker connection lifecycle events and received messages.",
		}, []string{"event"}),
		payloadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_errors_total",
			Help:      "Command messages rejected because the payload was invalid.",
		}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Completed actions by outcome.",
		}, []string{"outcome"}),
		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action execution time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9), // 5ms to ~5.5m
		}, []string{"outcome"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Actions waiting in the queue.",
		}),
		queueDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Actions dropped because the queue was full.",
		}),
		busy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_busy",
			Help:      "1 while an action is executing.",
		}),
	}

	m.startTime.Set(float64(time.Now().Unix()))
	for _, e := range brokerEvents {
		m.brokerEvents.WithLabelValues(e)
	}
	for _, o := range dispatch.Outcomes {
		m.actions.WithLabelValues(string(o))
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// BrokerEvent counts one broker lifecycle event.
func (m *Metrics) BrokerEvent(event string) {
	m.brokerEvents.WithLabelValues(event).Inc()
}

// PayloadError counts one rejected command payload.
func (m *Metrics) PayloadError() {
	m.payloadErrors.Inc()
}

func (m *Metrics) ActionQueued(_ queue.Request, depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) ActionDropped(_ queue.Request, depth int) {
	m.queueDropped.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) ActionStarted(_ queue.Request, depth int) {
	m.busy.Set(1)
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) ActionCompleted(_ queue.Request, res dispatch.Result) {
	m.busy.Set(0)
	m.actions.WithLabelValues(string(res.Outcome)).Inc()
	m.actionDuration.WithLabelValues(string(res.Outcome)).Observe(res.Duration.Seconds())
}

var _ dispatch.Observer = (*Metrics)(nil)
