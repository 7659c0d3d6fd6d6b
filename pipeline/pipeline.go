// Package pipeline wires the stream reader, detector set, deduplicator,
// and event sink into one per-run context. A Pipeline is constructed
// fresh for each run; identical input produces an identical canonical
// log.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/retailstreams/dedup"
	"github.com/c360/retailstreams/detect"
	"github.com/c360/retailstreams/errors"
	"github.com/c360/retailstreams/record"
	"github.com/c360/retailstreams/sink"
)

// RecordSource is the pipeline's view of the stream reader.
type RecordSource interface {
	Read(ctx context.Context) (record.RawRecord, error)
	Malformed() int64
	Close() error
}

// Deps carries construction dependencies for the Pipeline.
type Deps struct {
	Source        RecordSource
	Registry      *detect.Registry
	Dedup         *dedup.Deduplicator
	Sink          sink.Sink
	FlushInterval time.Duration
	Metrics       *Metrics
	Logger        *slog.Logger
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	RecordsConsumed int64
	Candidates      int64
	CanonicalEvents int64
	DetectorErrors  int64
	Malformed       int64
}

// Pipeline runs one detection pass over a stream.
type Pipeline struct {
	runID    string
	source   RecordSource
	registry *detect.Registry
	dedup    *dedup.Deduplicator
	sink     sink.Sink
	interval time.Duration
	metrics  *Metrics
	logger   *slog.Logger

	records    atomic.Int64
	candidates atomic.Int64
	events     atomic.Int64
	detErrors  atomic.Int64
}

// New builds a pipeline. Every dependency except Metrics and Logger is
// required.
func New(deps Deps) (*Pipeline, error) {
	if deps.Source == nil || deps.Registry == nil || deps.Dedup == nil || deps.Sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pipeline", "New", "missing dependency")
	}
	if deps.FlushInterval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Pipeline", "New", "flush interval must be positive")
	}

	runID := uuid.NewString()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		runID:    runID,
		source:   deps.Source,
		registry: deps.Registry,
		dedup:    deps.Dedup,
		sink:     deps.Sink,
		interval: deps.FlushInterval,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "pipeline", "run_id", runID),
	}, nil
}

// RunID identifies this pipeline run in logs.
func (p *Pipeline) RunID() string { return p.runID }

// Run consumes the stream to completion. Flushes tick on the stream
// clock, so replay speed never changes the output. Cancellation closes
// the reader promptly and discards unflushed candidates; a fatal sink
// error aborts the run.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			_ = p.source.Close()
		case <-loopDone:
		}
		return nil
	})
	g.Go(func() error {
		defer close(loopDone)
		return p.loop(ctx)
	})

	err := g.Wait()
	p.metrics.setMalformed(p.source.Malformed())
	p.logStats()
	return err
}

func (p *Pipeline) loop(ctx context.Context) error {
	var streamNow, nextFlush time.Time

	for {
		rec, err := p.source.Read(ctx)
		if err != nil {
			if err == io.EOF {
				return p.drain(streamNow)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errors.ErrStreamClosed) {
				return ctx.Err()
			}
			return err
		}

		p.records.Add(1)
		p.metrics.incRecords()

		if rec.Timestamp.After(streamNow) {
			streamNow = rec.Timestamp
		}
		if nextFlush.IsZero() {
			nextFlush = rec.Timestamp.Add(p.interval)
		}

		// Sweep expired windows before the record that moved the clock
		// past the tick.
		if streamNow.After(nextFlush) {
			if err := p.process(p.registry.Flush(streamNow)); err != nil {
				return err
			}
			for !nextFlush.After(streamNow) {
				nextFlush = nextFlush.Add(p.interval)
			}
		}

		cands := p.registry.Consume(rec, p.onDetectorError)
		if err := p.process(cands); err != nil {
			return err
		}
	}
}

// drain is the end-of-stream path: one final window sweep, then the
// deduplicator's open state.
func (p *Pipeline) drain(streamNow time.Time) error {
	if !streamNow.IsZero() {
		if err := p.process(p.registry.Flush(streamNow)); err != nil {
			return err
		}
	}
	return p.commit(p.dedup.FlushOpen())
}

// process orders a record's candidates deterministically and feeds them
// through the deduplicator.
func (p *Pipeline) process(cands []detect.Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if !cands[i].Timestamp.Equal(cands[j].Timestamp) {
			return cands[i].Timestamp.Before(cands[j].Timestamp)
		}
		return cands[i].Priority < cands[j].Priority
	})
	for _, c := range cands {
		p.candidates.Add(1)
		p.metrics.incCandidate(c.Detector)
		if err := p.commit(p.dedup.Offer(c)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) commit(events []dedup.CanonicalEvent) error {
	for _, e := range events {
		if err := p.sink.Append(e); err != nil {
			return errors.Wrap(err, "Pipeline", "commit", "append canonical event")
		}
		p.events.Add(1)
		p.metrics.incCanonical(e.EventType)
	}
	return nil
}

func (p *Pipeline) onDetectorError(detector string, err error) {
	p.detErrors.Add(1)
	p.metrics.incDetectorError(detector)
	p.logger.Warn("detector error isolated", "detector", detector, "error", err)
}

// Reset clears detector and dedup state so the same pipeline instance
// can rerun deterministically. Counters reset too.
func (p *Pipeline) Reset() {
	p.registry.Reset()
	p.dedup.Reset()
	p.records.Store(0)
	p.candidates.Store(0)
	p.events.Store(0)
	p.detErrors.Store(0)
}

// Stats returns current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		RecordsConsumed: p.records.Load(),
		Candidates:      p.candidates.Load(),
		CanonicalEvents: p.events.Load(),
		DetectorErrors:  p.detErrors.Load(),
		Malformed:       p.source.Malformed(),
	}
}

func (p *Pipeline) logStats() {
	s := p.Stats()
	p.logger.Info("run finished",
		"records", s.RecordsConsumed,
		"candidates", s.Candidates,
		"canonical_events", s.CanonicalEvents,
		"detector_errors", s.DetectorErrors,
		"malformed", s.Malformed,
	)
}
