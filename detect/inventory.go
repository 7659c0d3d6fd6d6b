package detect

import (
	"math"
	"time"

	"github.com/c360/retailstreams/catalog"
	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/record"
)

// InventoryDiscrepancy reconciles inventory snapshots against the
// catalog baseline adjusted for observed POS sales. A shortfall beyond
// tolerance is possible shrinkage; a surplus is a data-quality problem.
// Both emit, with the shortfall valued at catalog price.
type InventoryDiscrepancy struct {
	cfg     config.InventoryConfig
	catalog *catalog.Catalog

	sales     map[string]int
	cooldowns map[string]time.Time
}

// NewInventoryDiscrepancy builds the detector over the given catalog.
func NewInventoryDiscrepancy(cfg config.InventoryConfig, cat *catalog.Catalog) *InventoryDiscrepancy {
	return &InventoryDiscrepancy{
		cfg:       cfg,
		catalog:   cat,
		sales:     make(map[string]int),
		cooldowns: make(map[string]time.Time),
	}
}

// Name implements Detector.
func (d *InventoryDiscrepancy) Name() string { return EventInventoryDiscrepancy }

// Consume implements Detector.
func (d *InventoryDiscrepancy) Consume(rec record.RawRecord) ([]Candidate, error) {
	switch rec.Source {
	case record.SourcePOS:
		if rec.POS != nil && rec.POS.SKU != "" {
			d.sales[normalizeSKU(rec.POS.SKU)]++
		}
		return nil, nil

	case record.SourceInventory:
		if d.catalog == nil || len(rec.Inventory) == 0 {
			return nil, nil
		}
		return d.reconcile(rec), nil
	}
	return nil, nil
}

func (d *InventoryDiscrepancy) reconcile(rec record.RawRecord) []Candidate {
	var out []Candidate
	for rawSKU, observed := range rec.Inventory {
		sku := normalizeSKU(rawSKU)
		product, ok := d.catalog.Lookup(sku)
		if !ok || product.Quantity <= 0 {
			continue
		}
		if until, ok := d.cooldowns[sku]; ok && rec.Timestamp.Before(until) {
			continue
		}

		expected := product.Quantity - d.sales[sku]
		if expected < 0 {
			expected = 0
		}
		diff := expected - observed
		threshold := math.Max(float64(d.cfg.AbsThreshold), d.cfg.RelThreshold*float64(product.Quantity))
		if math.Abs(float64(diff)) <= threshold {
			continue
		}

		d.cooldowns[sku] = rec.Timestamp.Add(d.cfg.Cooldown.Std())

		relDiff := math.Abs(float64(diff)) / float64(product.Quantity)
		attrs := map[string]any{
			"sku":            sku,
			"product_name":   product.Name,
			"expected_count": expected,
			"observed_count": observed,
			"difference":     diff,
		}
		if diff > 0 {
			attrs["shrinkage_units"] = diff
			attrs["shrinkage_value"] = math.Round(float64(diff)*product.Price*100) / 100
		}
		out = append(out, Candidate{
			EventType:  EventInventoryDiscrepancy,
			Timestamp:  rec.Timestamp,
			Entity:     sku,
			Confidence: math.Min(0.95, 0.5+relDiff),
			Attributes: attrs,
		})
	}
	return out
}

// Flush implements Detector; snapshots drive emission, not the clock.
func (d *InventoryDiscrepancy) Flush(time.Time) []Candidate { return nil }

// Reset implements Detector.
func (d *InventoryDiscrepancy) Reset() {
	d.sales = make(map[string]int)
	d.cooldowns = make(map[string]time.Time)
}
