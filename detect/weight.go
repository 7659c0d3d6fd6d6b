package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/c360/retailstreams/catalog"
	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/record"
)

// WeightDiscrepancy compares the scale weight on a POS transaction with
// the catalog weight for the scanned SKU. It keeps no window state: a
// discrepancy is visible on the transaction itself.
type WeightDiscrepancy struct {
	cfg     config.WeightConfig
	catalog *catalog.Catalog
}

// NewWeightDiscrepancy builds the detector over the given catalog.
func NewWeightDiscrepancy(cfg config.WeightConfig, cat *catalog.Catalog) *WeightDiscrepancy {
	return &WeightDiscrepancy{cfg: cfg, catalog: cat}
}

// Name implements Detector.
func (d *WeightDiscrepancy) Name() string { return EventWeightDiscrepancy }

// Consume implements Detector.
func (d *WeightDiscrepancy) Consume(rec record.RawRecord) ([]Candidate, error) {
	if rec.Source != record.SourcePOS || rec.POS == nil {
		return nil, nil
	}
	p := rec.POS
	if p.WeightG <= 0 || d.catalog == nil {
		return nil, nil
	}
	product, ok := d.catalog.Lookup(normalizeSKU(p.SKU))
	if !ok || product.WeightG <= 0 {
		return nil, nil
	}

	deviation := math.Abs(p.WeightG - product.WeightG)
	tolerance := math.Max(d.cfg.AbsToleranceG, d.cfg.RelTolerance*product.WeightG)
	if deviation <= tolerance {
		return nil, nil
	}

	station := stationOf(rec, p.Station)
	ratio := deviation / product.WeightG
	return []Candidate{{
		EventType:  EventWeightDiscrepancy,
		Timestamp:  rec.Timestamp,
		Entity:     fmt.Sprintf("%s@%s", normalizeSKU(p.SKU), station),
		Confidence: math.Min(0.99, 0.6+ratio),
		Attributes: map[string]any{
			"sku":               normalizeSKU(p.SKU),
			"product_name":      p.ProductName,
			"station_id":        station,
			"customer_id":       p.Customer,
			"expected_weight_g": product.WeightG,
			"observed_weight_g": p.WeightG,
			"deviation_g":       round1(deviation),
		},
	}}, nil
}

// Flush implements Detector; there is nothing time-based to close.
func (d *WeightDiscrepancy) Flush(time.Time) []Candidate { return nil }

// Reset implements Detector.
func (d *WeightDiscrepancy) Reset() {}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
