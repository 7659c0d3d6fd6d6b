package detect

import (
	"strings"
	"time"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/record"
)

// faultStatuses are the station status values treated as failures.
var faultStatuses = map[string]struct{}{
	"ERROR":        {},
	"OFFLINE":      {},
	"CRASH":        {},
	"CRASHED":      {},
	"FAILURE":      {},
	"DOWN":         {},
	"MALFUNCTION":  {},
	"READ ERROR":   {},
	"SYSTEM ERROR": {},
}

// SystemHealth raises alerts for stations that report a fault status
// and for stations that fall silent past the heartbeat timeout. Every
// record with a station id counts as a heartbeat, whatever its source.
type SystemHealth struct {
	cfg config.SystemConfig

	lastSeen  map[string]time.Time
	cooldowns map[string]time.Time
}

// NewSystemHealth builds the detector with the given thresholds.
func NewSystemHealth(cfg config.SystemConfig) *SystemHealth {
	return &SystemHealth{
		cfg:       cfg,
		lastSeen:  make(map[string]time.Time),
		cooldowns: make(map[string]time.Time),
	}
}

// Name implements Detector.
func (d *SystemHealth) Name() string { return EventSystemHealth }

// Consume implements Detector.
func (d *SystemHealth) Consume(rec record.RawRecord) ([]Candidate, error) {
	station := rec.Station
	status := rec.Status
	errorCode := ""
	if rec.StatusSig != nil {
		station = stationOf(rec, rec.StatusSig.Station)
		if rec.StatusSig.Status != "" {
			status = rec.StatusSig.Status
		}
		errorCode = rec.StatusSig.ErrorCode
	}
	if station == "" {
		return nil, nil
	}
	d.lastSeen[station] = rec.Timestamp

	if !isFault(status) {
		return nil, nil
	}
	if until, ok := d.cooldowns[station]; ok && rec.Timestamp.Before(until) {
		return nil, nil
	}
	d.cooldowns[station] = rec.Timestamp.Add(d.cfg.Cooldown.Std())

	return []Candidate{{
		EventType:  EventSystemHealth,
		Timestamp:  rec.Timestamp,
		Entity:     station,
		Confidence: 0.9,
		Attributes: map[string]any{
			"status":             strings.ToUpper(strings.TrimSpace(status)),
			"error_code":         errorCode,
			"severity":           SeverityCritical,
			"recommended_action": "dispatch technician to station",
		},
	}}, nil
}

func isFault(status string) bool {
	_, ok := faultStatuses[strings.ToUpper(strings.TrimSpace(status))]
	return ok
}

// Flush emits a missing-heartbeat alert for stations silent past the
// heartbeat timeout, at most once per cooldown span.
func (d *SystemHealth) Flush(now time.Time) []Candidate {
	timeout := d.cfg.HeartbeatTimeout.Std()
	if timeout <= 0 {
		return nil
	}
	var out []Candidate
	for station, seen := range d.lastSeen {
		silence := now.Sub(seen)
		if silence <= timeout {
			continue
		}
		if until, ok := d.cooldowns[station]; ok && now.Before(until) {
			continue
		}
		d.cooldowns[station] = now.Add(d.cfg.Cooldown.Std())

		out = append(out, Candidate{
			EventType:  EventSystemHealth,
			Timestamp:  now,
			Entity:     station,
			Confidence: 0.8,
			Attributes: map[string]any{
				"status":             "MISSING_HEARTBEAT",
				"severity":           SeverityWarning,
				"silence_seconds":    silence.Seconds(),
				"last_seen":          record.FormatTimestamp(seen),
				"recommended_action": "check station connectivity",
			},
		})
	}
	return out
}

// Reset implements Detector.
func (d *SystemHealth) Reset() {
	d.lastSeen = make(map[string]time.Time)
	d.cooldowns = make(map[string]time.Time)
}
