package detect

import (
	"math"
	"time"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/record"
)

// QueueHealth watches queue telemetry per station and emits staffing
// alerts when dwell time or customer count crosses the warning or
// critical thresholds. Repeats within the cooldown are suppressed
// unless the severity escalates.
type QueueHealth struct {
	cfg config.QueueConfig

	cooldowns    map[string]time.Time
	lastSeverity map[string]string
}

// NewQueueHealth builds the detector with the given thresholds.
func NewQueueHealth(cfg config.QueueConfig) *QueueHealth {
	return &QueueHealth{
		cfg:          cfg,
		cooldowns:    make(map[string]time.Time),
		lastSeverity: make(map[string]string),
	}
}

// Name implements Detector.
func (d *QueueHealth) Name() string { return EventQueueHealth }

// Consume implements Detector.
func (d *QueueHealth) Consume(rec record.RawRecord) ([]Candidate, error) {
	if rec.Source != record.SourceQueue || rec.Queue == nil {
		return nil, nil
	}
	q := rec.Queue
	station := stationOf(rec, q.Station)
	severity := d.severity(q)

	if severity == "" {
		// Healthy sample clears the station so the next breach alerts
		// immediately.
		delete(d.cooldowns, station)
		delete(d.lastSeverity, station)
		return nil, nil
	}

	escalated := severity == SeverityCritical && d.lastSeverity[station] == SeverityWarning
	if until, ok := d.cooldowns[station]; ok && rec.Timestamp.Before(until) && !escalated {
		return nil, nil
	}

	d.cooldowns[station] = rec.Timestamp.Add(d.cfg.Cooldown.Std())
	d.lastSeverity[station] = severity

	staff := int(math.Ceil(float64(q.CustomerCount) / float64(d.cfg.TargetRatio)))
	confidence := 0.75
	action := "monitor queue and prepare additional staffing"
	if severity == SeverityCritical {
		confidence = 0.9
		action = "open additional checkout lanes"
	}

	return []Candidate{{
		EventType:  EventQueueHealth,
		Timestamp:  rec.Timestamp,
		Entity:     station,
		Confidence: confidence,
		Attributes: map[string]any{
			"customer_count":     q.CustomerCount,
			"avg_dwell_seconds":  q.DwellSeconds,
			"severity":           severity,
			"recommended_staff":  staff,
			"recommended_action": action,
		},
	}}, nil
}

func (d *QueueHealth) severity(q *record.QueueSample) string {
	switch {
	case q.DwellSeconds > d.cfg.CritDwellSeconds || q.CustomerCount > d.cfg.CritCount:
		return SeverityCritical
	case q.DwellSeconds > d.cfg.WarnDwellSeconds || q.CustomerCount > d.cfg.WarnCount:
		return SeverityWarning
	}
	return ""
}

// Flush implements Detector; alerts are sample-driven.
func (d *QueueHealth) Flush(time.Time) []Candidate { return nil }

// Reset implements Detector.
func (d *QueueHealth) Reset() {
	d.cooldowns = make(map[string]time.Time)
	d.lastSeverity = make(map[string]string)
}
