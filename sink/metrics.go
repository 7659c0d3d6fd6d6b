package sink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/retailstreams/metric"
)

// Metrics holds Prometheus metrics for the event sinks. All methods are
// nil-safe so sinks built without a registry skip instrumentation.
type Metrics struct {
	eventsAppended   prometheus.Counter
	appendErrors     prometheus.Counter
	pushed           prometheus.Counter
	pushDropped      prometheus.Counter
	clientsConnected prometheus.Gauge
	natsPublished    prometheus.Counter
	natsErrors       prometheus.Counter
}

// NewMetrics creates and registers sink metrics. A nil registry returns
// nil.
func NewMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		eventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sink",
			Name:      "events_appended_total",
			Help:      "Canonical events committed to the log",
		}),
		appendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sink",
			Name:      "append_errors_total",
			Help:      "Event log append failures after retries",
		}),
		pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sink",
			Name:      "events_pushed_total",
			Help:      "Events delivered to WebSocket subscribers",
		}),
		pushDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sink",
			Name:      "events_push_dropped_total",
			Help:      "Events dropped from slow subscriber queues",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "sink",
			Name:      "push_clients_connected",
			Help:      "Currently connected WebSocket subscribers",
		}),
		natsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sink",
			Name:      "nats_published_total",
			Help:      "Events published to NATS",
		}),
		natsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sink",
			Name:      "nats_errors_total",
			Help:      "Failed NATS publishes",
		}),
	}

	registry.MustRegister("sink", map[string]prometheus.Collector{
		"events_appended_total":     m.eventsAppended,
		"append_errors_total":       m.appendErrors,
		"events_pushed_total":       m.pushed,
		"events_push_dropped_total": m.pushDropped,
		"push_clients_connected":    m.clientsConnected,
		"nats_published_total":      m.natsPublished,
		"nats_errors_total":         m.natsErrors,
	})
	return m
}

func (m *Metrics) incAppended() {
	if m != nil {
		m.eventsAppended.Inc()
	}
}

func (m *Metrics) incAppendErrors() {
	if m != nil {
		m.appendErrors.Inc()
	}
}

func (m *Metrics) incPushed() {
	if m != nil {
		m.pushed.Inc()
	}
}

func (m *Metrics) incPushDropped() {
	if m != nil {
		m.pushDropped.Inc()
	}
}

func (m *Metrics) setClients(n int) {
	if m != nil {
		m.clientsConnected.Set(float64(n))
	}
}

func (m *Metrics) incNATSPublished() {
	if m != nil {
		m.natsPublished.Inc()
	}
}

func (m *Metrics) incNATSErrors() {
	if m != nil {
		m.natsErrors.Inc()
	}
}
