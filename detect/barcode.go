package detect

import (
	"time"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/record"
)

// visionPrediction is the cached vision call for a station, valid for
// the match window.
type visionPrediction struct {
	sku        string
	confidence float64
	seen       time.Time
}

// BarcodeSwitching flags POS scans whose SKU disagrees with what the
// vision system saw at the same station moments earlier. A confident
// vision prediction opens a window per station; the next POS scan
// within the window either matches (silent close) or mismatches (emit
// once, close).
type BarcodeSwitching struct {
	cfg         config.BarcodeConfig
	predictions map[string]visionPrediction
}

// NewBarcodeSwitching builds the detector with the given thresholds.
func NewBarcodeSwitching(cfg config.BarcodeConfig) *BarcodeSwitching {
	return &BarcodeSwitching{
		cfg:         cfg,
		predictions: make(map[string]visionPrediction),
	}
}

// Name implements Detector.
func (d *BarcodeSwitching) Name() string { return EventBarcodeSwitching }

// Consume implements Detector.
func (d *BarcodeSwitching) Consume(rec record.RawRecord) ([]Candidate, error) {
	switch rec.Source {
	case record.SourceVision:
		v := rec.Vision
		if v == nil || v.PredictedSKU == "" {
			return nil, nil
		}
		if v.Confidence < d.cfg.MinVisionConfidence {
			return nil, nil
		}
		station := stationOf(rec, v.Station)
		if station == "" {
			return nil, nil
		}
		// Latest confident prediction wins.
		d.predictions[station] = visionPrediction{
			sku:        normalizeSKU(v.PredictedSKU),
			confidence: v.Confidence,
			seen:       rec.Timestamp,
		}

	case record.SourcePOS:
		p := rec.POS
		if p == nil || p.SKU == "" {
			return nil, nil
		}
		station := stationOf(rec, p.Station)
		pred, ok := d.predictions[station]
		if !ok {
			return nil, nil
		}
		delete(d.predictions, station)

		if rec.Timestamp.Sub(pred.seen) > d.cfg.MatchWindow.Std() {
			return nil, nil
		}
		scanned := normalizeSKU(p.SKU)
		if scanned == pred.sku {
			return nil, nil
		}
		return []Candidate{{
			EventType:  EventBarcodeSwitching,
			Timestamp:  rec.Timestamp,
			Entity:     station,
			Confidence: pred.confidence,
			Attributes: map[string]any{
				"predicted_product": pred.sku,
				"scanned_product":   scanned,
				"customer_id":       p.Customer,
				"product_name":      p.ProductName,
			},
		}}, nil
	}
	return nil, nil
}

// Flush drops predictions past their TTL; expiry alone never emits.
func (d *BarcodeSwitching) Flush(now time.Time) []Candidate {
	for station, pred := range d.predictions {
		if now.Sub(pred.seen) > d.cfg.MatchWindow.Std() {
			delete(d.predictions, station)
		}
	}
	return nil
}

// Reset implements Detector.
func (d *BarcodeSwitching) Reset() {
	d.predictions = make(map[string]visionPrediction)
}

// stationOf prefers the payload station, falling back to the envelope
// station.
func stationOf(rec record.RawRecord, payload string) string {
	if payload != "" {
		return payload
	}
	return rec.Station
}
