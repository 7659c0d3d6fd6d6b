package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/retailstreams/metric"
)

// Metrics holds Prometheus metrics for the detection pipeline.
type Metrics struct {
	recordsConsumed prometheus.Counter
	candidates      *prometheus.CounterVec
	canonicalEvents *prometheus.CounterVec
	detectorErrors  *prometheus.CounterVec
	malformed       prometheus.Gauge
}

// NewMetrics creates and registers pipeline metrics. A nil registry
// returns nil.
func NewMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		recordsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "records_consumed_total",
			Help:      "Stream records fed to the detector set",
		}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "candidates_total",
			Help:      "Detection candidates by detector",
		}, []string{"detector"}),
		canonicalEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "canonical_events_total",
			Help:      "Canonical events committed by event type",
		}, []string{"event_type"}),
		detectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "detector_errors_total",
			Help:      "Detector errors isolated by the pipeline",
		}, []string{"detector"}),
		malformed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "malformed_records",
			Help:      "Malformed stream records skipped by the reader",
		}),
	}

	registry.MustRegister("pipeline", map[string]prometheus.Collector{
		"records_consumed_total": m.recordsConsumed,
		"candidates_total":       m.candidates,
		"canonical_events_total": m.canonicalEvents,
		"detector_errors_total":  m.detectorErrors,
		"malformed_records":      m.malformed,
	})
	return m
}

func (m *Metrics) incRecords() {
	if m != nil {
		m.recordsConsumed.Inc()
	}
}

func (m *Metrics) incCandidate(detector string) {
	if m != nil {
		m.candidates.WithLabelValues(detector).Inc()
	}
}

func (m *Metrics) incCanonical(eventType string) {
	if m != nil {
		m.canonicalEvents.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) incDetectorError(detector string) {
	if m != nil {
		m.detectorErrors.WithLabelValues(detector).Inc()
	}
}

func (m *Metrics) setMalformed(n int64) {
	if m != nil {
		m.malformed.Set(float64(n))
	}
}
