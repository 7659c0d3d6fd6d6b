// Package detect holds the detector contract and the closed set of
// retail anomaly detectors. Detectors are stateful and single-threaded:
// the pipeline feeds them records sequentially and flushes them on
// stream-clock ticks.
package detect

import (
	"log/slog"
	"strings"
	"time"

	"github.com/c360/retailstreams/catalog"
	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/record"
)

// Event type names carried on candidates and canonical events.
const (
	EventBarcodeSwitching     = "barcode_switching"
	EventScannerAvoidance     = "scanner_avoidance"
	EventWeightDiscrepancy    = "weight_discrepancy"
	EventInventoryDiscrepancy = "inventory_discrepancy"
	EventQueueHealth          = "queue_health"
	EventSystemHealth         = "system_health"
)

// Severity values used on health events.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Candidate is a raw detection before deduplication and calibration.
type Candidate struct {
	EventType  string
	Timestamp  time.Time
	Entity     string
	Confidence float64
	Attributes map[string]any
	Detector   string
	Priority   int
}

// Detector consumes records and emits candidates. Implementations keep
// their own window state; Flush closes windows past their deadline
// using the supplied stream-clock time, and Reset drops all state so a
// fresh run starts clean.
type Detector interface {
	Name() string
	Consume(rec record.RawRecord) ([]Candidate, error)
	Flush(now time.Time) []Candidate
	Reset()
}

// Registry is an explicit, ordered set of detectors. Registration order
// sets candidate priority (lower index wins ties downstream). There is
// no global registry.
type Registry struct {
	detectors []Detector
	logger    *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "detect")
	}
	return &Registry{logger: logger}
}

// NewDefaultRegistry wires the six built-in detectors in their standard
// priority order.
func NewDefaultRegistry(cfg config.DetectorConfig, cat *catalog.Catalog, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewBarcodeSwitching(cfg.Barcode))
	r.Register(NewScannerAvoidance(cfg.Scanner))
	r.Register(NewWeightDiscrepancy(cfg.Weight, cat))
	r.Register(NewInventoryDiscrepancy(cfg.Inventory, cat))
	r.Register(NewQueueHealth(cfg.Queue))
	r.Register(NewSystemHealth(cfg.System))
	return r
}

// Register appends a detector. Not safe for concurrent use.
func (r *Registry) Register(d Detector) {
	r.detectors = append(r.detectors, d)
}

// Detectors returns the registered detectors in priority order.
func (r *Registry) Detectors() []Detector {
	return r.detectors
}

// Len reports the number of registered detectors.
func (r *Registry) Len() int { return len(r.detectors) }

// Consume feeds one record to every detector. A detector error is
// isolated: it is reported through onErr and the remaining detectors
// still see the record. Returned candidates carry the detector name and
// registration priority.
func (r *Registry) Consume(rec record.RawRecord, onErr func(detector string, err error)) []Candidate {
	var out []Candidate
	for i, d := range r.detectors {
		cands, err := d.Consume(rec)
		if err != nil {
			if onErr != nil {
				onErr(d.Name(), err)
			} else {
				r.logger.Warn("detector error", "detector", d.Name(), "error", err)
			}
			continue
		}
		out = append(out, stamp(cands, d.Name(), i)...)
	}
	return out
}

// Flush closes expired windows on every detector at stream-clock time
// now.
func (r *Registry) Flush(now time.Time) []Candidate {
	var out []Candidate
	for i, d := range r.detectors {
		out = append(out, stamp(d.Flush(now), d.Name(), i)...)
	}
	return out
}

// Reset clears all detector state.
func (r *Registry) Reset() {
	for _, d := range r.detectors {
		d.Reset()
	}
}

func stamp(cands []Candidate, name string, priority int) []Candidate {
	for i := range cands {
		cands[i].Detector = name
		cands[i].Priority = priority
		cands[i].Confidence = clamp01(cands[i].Confidence)
	}
	return cands
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// normalizeSKU makes SKU comparison tolerant of whitespace and case
// differences between the vision feed and POS data.
func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}
