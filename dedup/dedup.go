// Package dedup is the single linearization point between the detector
// set and the event sink. It collapses repeated detections of the same
// (event type, entity) pair within a merge window into one canonical
// event with calibrated confidence.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/detect"
	"github.com/c360/retailstreams/record"
)

// CanonicalEvent is the deduplicated, immutable output record. Field
// order here is the JSON field order on the wire and in the log.
type CanonicalEvent struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	Timestamp  string         `json:"timestamp"`
	Source     string         `json:"source"`
	Entity     string         `json:"entity"`
	Confidence float64        `json:"confidence"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// EventID derives the deterministic canonical event identifier from the
// fields that define event identity. Identical runs over identical
// input produce identical IDs.
func EventID(eventType, entity string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", eventType, entity, ts.UnixMilli())))
	return hex.EncodeToString(sum[:6])
}

// Encode renders the event as its canonical JSON line (no trailing
// newline).
func (e CanonicalEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type key struct {
	eventType string
	entity    string
}

type pending struct {
	event     CanonicalEvent
	first     time.Time
	lastMerge time.Time
}

// Deduplicator merges candidates per (event type, entity) key. Emitted
// events come out in non-decreasing timestamp order; a candidate older
// than the newest emission is clamped forward rather than reordered.
// Offer may be called from one goroutine at a time; internal state is
// additionally mutex-guarded so Stats and FlushOpen are safe from
// elsewhere.
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration

	open     map[key]*pending
	lastEmit time.Time
	merged   int64
	emitted  int64
}

// New builds a deduplicator with the configured merge window.
func New(cfg config.DedupConfig) *Deduplicator {
	return &Deduplicator{
		window: cfg.Window.Std(),
		open:   make(map[key]*pending),
	}
}

// Offer feeds one candidate in. The return value holds any canonical
// events whose merge window closed as a consequence: the candidate
// itself when its key was idle is held open for late duplicates, so a
// single Offer usually returns nothing and the events surface on a
// later Offer or FlushOpen.
func (d *Deduplicator) Offer(c detect.Candidate) []CanonicalEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := c.Timestamp
	out := d.closeExpiredLocked(now)

	k := key{eventType: c.EventType, entity: c.Entity}
	if p, ok := d.open[k]; ok {
		d.mergeLocked(p, c)
		return out
	}

	ts := c.Timestamp
	if ts.Before(d.lastEmit) {
		ts = d.lastEmit
	}
	d.open[k] = &pending{
		event: CanonicalEvent{
			ID:         EventID(c.EventType, c.Entity, ts),
			EventType:  c.EventType,
			Timestamp:  record.FormatTimestamp(ts),
			Source:     c.Detector,
			Entity:     c.Entity,
			Confidence: c.Confidence,
			Attributes: c.Attributes,
		},
		first:     ts,
		lastMerge: c.Timestamp,
	}
	return out
}

// mergeLocked folds a duplicate candidate into the open event: maximum
// confidence wins, attributes union with first-writer precedence, the
// earliest timestamp is kept.
func (d *Deduplicator) mergeLocked(p *pending, c detect.Candidate) {
	d.merged++
	p.lastMerge = c.Timestamp
	if c.Confidence > p.event.Confidence {
		p.event.Confidence = c.Confidence
	}
	if len(c.Attributes) > 0 {
		if p.event.Attributes == nil {
			p.event.Attributes = make(map[string]any, len(c.Attributes))
		}
		for k, v := range c.Attributes {
			if _, taken := p.event.Attributes[k]; !taken {
				p.event.Attributes[k] = v
			}
		}
	}
}

// closeExpiredLocked emits open events whose window ended before now,
// oldest first.
func (d *Deduplicator) closeExpiredLocked(now time.Time) []CanonicalEvent {
	var due []*pending
	for k, p := range d.open {
		if now.Sub(p.first) > d.window {
			due = append(due, p)
			delete(d.open, k)
		}
	}
	return d.emitLocked(due)
}

func (d *Deduplicator) emitLocked(due []*pending) []CanonicalEvent {
	if len(due) == 0 {
		return nil
	}
	sortPending(due)
	out := make([]CanonicalEvent, 0, len(due))
	for _, p := range due {
		d.emitted++
		if p.first.After(d.lastEmit) {
			d.lastEmit = p.first
		}
		out = append(out, p.event)
	}
	return out
}

// FlushOpen drains every open window at end of run, oldest first.
func (d *Deduplicator) FlushOpen() []CanonicalEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	due := make([]*pending, 0, len(d.open))
	for _, p := range d.open {
		due = append(due, p)
	}
	d.open = make(map[key]*pending)
	return d.emitLocked(due)
}

// Reset drops all state for a fresh deterministic run.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = make(map[key]*pending)
	d.lastEmit = time.Time{}
	d.merged = 0
	d.emitted = 0
}

// Stats reports how many candidates were merged away and how many
// canonical events were emitted.
func (d *Deduplicator) Stats() (merged, emitted int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.merged, d.emitted
}

// sortPending orders by (first timestamp, event type, entity) so equal
// timestamps still emit deterministically.
func sortPending(due []*pending) {
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.first.Equal(b.first) {
			return a.first.Before(b.first)
		}
		if a.event.EventType != b.event.EventType {
			return a.event.EventType < b.event.EventType
		}
		return a.event.Entity < b.event.Entity
	})
}
