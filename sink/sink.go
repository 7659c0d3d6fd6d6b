// Package sink persists canonical events. The file sink is the durable
// commit point; the WebSocket hub and NATS publisher are best-effort
// mirrors that never block or fail persistence.
package sink

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/dedup"
	"github.com/c360/retailstreams/errors"
	"github.com/c360/retailstreams/pkg/frame"
	"github.com/c360/retailstreams/pkg/retry"
)

// Sink accepts canonical events. Append returns only after the event is
// committed for durable sinks; best-effort sinks always return nil.
type Sink interface {
	Append(event dedup.CanonicalEvent) error
	Close() error
}

// FileSink appends canonical events to a JSONL log. Each event is one
// newline-terminated line written with a single Write call, so a crash
// never leaves a torn record visible to log readers.
type FileSink struct {
	mu      sync.Mutex
	file    *os.File
	retry   retry.Config
	metrics *Metrics
	closed  bool
}

// NewFileSink opens (or creates) the log at path for appending.
func NewFileSink(cfg config.SinkConfig, metrics *Metrics) (*FileSink, error) {
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "FileSink", "NewFileSink", "open event log")
	}
	return &FileSink{file: f, retry: cfg.Retry, metrics: metrics}, nil
}

// Append commits one event. Transient write failures are retried with
// backoff; exhausting the attempts is fatal, the caller must not treat
// the event as persisted.
func (s *FileSink) Append(event dedup.CanonicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSinkClosed
	}

	line, err := event.Encode()
	if err != nil {
		return errors.WrapInvalid(err, "FileSink", "Append", "encode event")
	}

	err = retry.Do(context.Background(), s.retry, func() error {
		return frame.WriteFrame(s.file, line)
	})
	if err != nil {
		s.metrics.incAppendErrors()
		return errors.WrapFatal(
			fmt.Errorf("%w: %w", errors.ErrAppendFailed, err),
			"FileSink", "Append", "write event log")
	}

	s.metrics.incAppended()
	return nil
}

// Sync flushes the log to stable storage.
func (s *FileSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrSinkClosed
	}
	return s.file.Sync()
}

// Close syncs and closes the log. Further Appends fail with
// ErrSinkClosed.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return errors.Wrap(err, "FileSink", "Close", "sync event log")
	}
	return s.file.Close()
}

// Multi fans one Append out to several sinks. The first sink is the
// durable one: its error is the commit result. Errors from the rest are
// swallowed, they are best-effort mirrors.
type Multi struct {
	durable Sink
	mirrors []Sink
}

// NewMulti composes a durable sink with best-effort mirrors. Nil
// mirrors are skipped.
func NewMulti(durable Sink, mirrors ...Sink) *Multi {
	m := &Multi{durable: durable}
	for _, s := range mirrors {
		if s != nil {
			m.mirrors = append(m.mirrors, s)
		}
	}
	return m
}

// Append implements Sink.
func (m *Multi) Append(event dedup.CanonicalEvent) error {
	if err := m.durable.Append(event); err != nil {
		return err
	}
	for _, s := range m.mirrors {
		_ = s.Append(event)
	}
	return nil
}

// Close closes every member, returning the durable sink's error.
func (m *Multi) Close() error {
	for _, s := range m.mirrors {
		_ = s.Close()
	}
	return m.durable.Close()
}
