package replay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/retailstreams/metric"
)

// Metrics holds Prometheus metrics for the replay server.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	recordsSent       prometheus.Counter
	recordsSkipped    prometheus.Counter
	sendErrors        prometheus.Counter
	loopsCompleted    prometheus.Counter
}

// newMetrics creates and registers replay server metrics. A nil
// registry returns nil metrics (nil input = nil feature).
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "replay",
			Name:      "connections_active",
			Help:      "Currently connected replay clients",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "replay",
			Name:      "connections_total",
			Help:      "Total accepted replay client connections",
		}),
		recordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "replay",
			Name:      "records_sent_total",
			Help:      "Records sent across all connections",
		}),
		recordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "replay",
			Name:      "records_skipped_total",
			Help:      "Records skipped during replay (non-monotonic after re-basing)",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "replay",
			Name:      "send_errors_total",
			Help:      "Write failures on client connections",
		}),
		loopsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "replay",
			Name:      "loops_completed_total",
			Help:      "Dataset loop restarts across all connections",
		}),
	}

	registry.MustRegister("replay", map[string]prometheus.Collector{
		"connections_active": m.connectionsActive,
		"connections_total":  m.connectionsTotal,
		"records_sent":       m.recordsSent,
		"records_skipped":    m.recordsSkipped,
		"send_errors":        m.sendErrors,
		"loops_completed":    m.loopsCompleted,
	})

	return m
}
