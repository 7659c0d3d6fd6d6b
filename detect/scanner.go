package detect

import (
	"time"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/record"
)

// defaultSuspiciousZones are the zones watched when the config lists
// none.
var defaultSuspiciousZones = []string{
	"EXIT_GATE",
	"EXIT_LANE",
	"CUSTOMER_EXIT",
	"OUT_OF_STORE",
	"BAGGING_AREA_BREACH",
}

// exitWindow tracks one tagged item seen in a suspicious zone, waiting
// for a matching POS scan.
type exitWindow struct {
	sku     string
	zone    string
	station string
	seen    time.Time
}

// ScannerAvoidance flags tagged items that reach an exit zone without a
// POS scan. An RFID reading in a monitored zone opens a window keyed by
// EPC; a scan of the same SKU inside the match window on either side of
// the reading accounts for it silently, and Flush emits for windows
// past their deadline with confidence decaying the longer the item
// stays unaccounted for.
type ScannerAvoidance struct {
	cfg         config.ScannerConfig
	zones       map[string]struct{}
	open        map[string]exitWindow
	cooldowns   map[string]time.Time
	recentScans map[string]time.Time
}

// NewScannerAvoidance builds the detector with the given thresholds.
func NewScannerAvoidance(cfg config.ScannerConfig) *ScannerAvoidance {
	zoneList := cfg.Zones
	if len(zoneList) == 0 {
		zoneList = defaultSuspiciousZones
	}
	zones := make(map[string]struct{}, len(zoneList))
	for _, z := range zoneList {
		zones[normalizeSKU(z)] = struct{}{}
	}
	return &ScannerAvoidance{
		cfg:         cfg,
		zones:       zones,
		open:        make(map[string]exitWindow),
		cooldowns:   make(map[string]time.Time),
		recentScans: make(map[string]time.Time),
	}
}

// Name implements Detector.
func (d *ScannerAvoidance) Name() string { return EventScannerAvoidance }

// Consume implements Detector.
func (d *ScannerAvoidance) Consume(rec record.RawRecord) ([]Candidate, error) {
	switch rec.Source {
	case record.SourceRFID:
		r := rec.RFID
		if r == nil || r.EPC == "" {
			return nil, nil
		}
		if _, watched := d.zones[normalizeSKU(r.Zone)]; !watched {
			return nil, nil
		}
		if until, ok := d.cooldowns[r.EPC]; ok && rec.Timestamp.Before(until) {
			return nil, nil
		}
		if _, already := d.open[r.EPC]; already {
			return nil, nil
		}
		// A scan of the same SKU shortly before the exit reading is
		// the normal checkout flow, not avoidance.
		sku := normalizeSKU(r.SKU)
		if last, ok := d.recentScans[sku]; ok && sku != "" &&
			!rec.Timestamp.Before(last) && rec.Timestamp.Sub(last) <= d.cfg.MatchWindow.Std() {
			return nil, nil
		}
		d.open[r.EPC] = exitWindow{
			sku:     sku,
			zone:    normalizeSKU(r.Zone),
			station: stationOf(rec, r.Station),
			seen:    rec.Timestamp,
		}

	case record.SourcePOS:
		p := rec.POS
		if p == nil || p.SKU == "" {
			return nil, nil
		}
		scanned := normalizeSKU(p.SKU)
		if last, ok := d.recentScans[scanned]; !ok || rec.Timestamp.After(last) {
			d.recentScans[scanned] = rec.Timestamp
		}
		for epc, w := range d.open {
			if w.sku != "" && w.sku == scanned {
				delete(d.open, epc)
			}
		}
	}
	return nil, nil
}

// Flush emits for windows whose match deadline passed. Confidence
// starts at the base value and decays linearly to the floor over a
// second match-window span of continued silence.
func (d *ScannerAvoidance) Flush(now time.Time) []Candidate {
	window := d.cfg.MatchWindow.Std()
	for sku, last := range d.recentScans {
		if now.Sub(last) > window {
			delete(d.recentScans, sku)
		}
	}
	var out []Candidate
	for epc, w := range d.open {
		elapsed := now.Sub(w.seen)
		if elapsed <= window {
			continue
		}
		delete(d.open, epc)
		d.cooldowns[epc] = now.Add(d.cfg.Cooldown.Std())

		out = append(out, Candidate{
			EventType:  EventScannerAvoidance,
			Timestamp:  now,
			Entity:     epc,
			Confidence: d.decayed(elapsed, window),
			Attributes: map[string]any{
				"sku":                w.sku,
				"zone":               w.zone,
				"station_id":         w.station,
				"unaccounted_since":  record.FormatTimestamp(w.seen),
				"recommended_action": "verify item against receipt at exit",
			},
		})
	}
	return out
}

func (d *ScannerAvoidance) decayed(elapsed, window time.Duration) float64 {
	base, floor := d.cfg.BaseConfidence, d.cfg.MinConfidence
	if window <= 0 || elapsed <= window {
		return base
	}
	over := elapsed - window
	frac := float64(over) / float64(window)
	if frac > 1 {
		frac = 1
	}
	return base - (base-floor)*frac
}

// Reset implements Detector.
func (d *ScannerAvoidance) Reset() {
	d.open = make(map[string]exitWindow)
	d.cooldowns = make(map[string]time.Time)
	d.recentScans = make(map[string]time.Time)
}
