// Package replay serves recorded retail sensor datasets as time-ordered
// streams over TCP. Each client connection gets an independent cursor
// over the merged record set, paced by the original inter-record gaps
// scaled by the configured speed multiplier, with optional looping that
// re-bases timestamps so the stream stays monotonic across the loop
// boundary.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/errors"
	"github.com/c360/retailstreams/metric"
	"github.com/c360/retailstreams/pkg/frame"
	"github.com/c360/retailstreams/pkg/retry"
	"github.com/c360/retailstreams/record"
)

// loopGap is the synthetic stream-time gap inserted between the last
// record of one pass and the first record of the next, so the re-based
// stream is strictly increasing across the boundary.
const loopGap = time.Second

// ServerDeps holds runtime dependencies for the replay server.
type ServerDeps struct {
	Config  config.ReplayConfig
	Data    *Data
	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Server is the dataset replay server. Connections share only the
// read-only record set; all per-connection state lives in serveConn.
type Server struct {
	cfg    config.ReplayConfig
	data   *Data
	logger *slog.Logger

	listener net.Listener

	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	mu       sync.Mutex
	wg       sync.WaitGroup

	conns   map[net.Conn]struct{}
	connsMu sync.Mutex

	recordsSent atomic.Int64
	metrics     *Metrics
}

// NewServer creates a replay server.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "replay-server")
	}
	return &Server{
		cfg:     deps.Config,
		data:    deps.Data,
		logger:  logger,
		metrics: newMetrics(deps.Metrics),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Initialize validates configuration and the loaded record set.
func (s *Server) Initialize() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.data == nil || len(s.data.Entries) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "replay-server", "Initialize", "record set check")
	}
	return nil
}

// Start binds the listener and begins accepting clients.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil // idempotent
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})

	listener, err := retry.DoWithResult(ctx, retry.Quick(), func() (net.Listener, error) {
		return net.Listen("tcp", s.cfg.Listen)
	})
	if err != nil {
		return errors.WrapTransient(err, "replay-server", "Start", "listener bind")
	}
	s.listener = listener
	s.running.Store(true)

	s.logger.Info("replay server listening",
		"addr", listener.Addr().String(),
		"records", len(s.data.Entries),
		"speed", s.cfg.Speed,
		"loop", s.cfg.Loop)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.acceptLoop(ctx)
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and all client connections, waiting up to
// timeout for connection goroutines to drain.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connsMu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"replay-server", "Stop", "graceful shutdown")
	}
}

// RecordsSent reports the total records sent across all connections.
func (s *Server) RecordsSent() int64 {
	return s.recordsSent.Load()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			default:
			}
			if !s.running.Load() {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		if s.metrics != nil {
			s.metrics.connectionsTotal.Inc()
			s.metrics.connectionsActive.Inc()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.connsMu.Lock()
				delete(s.conns, conn)
				s.connsMu.Unlock()
				_ = conn.Close()
				if s.metrics != nil {
					s.metrics.connectionsActive.Dec()
				}
			}()
			s.serveConn(ctx, conn)
		}()
	}
}

// serveConn replays the full record set to one client. A failure or
// disconnect here never affects other connections.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	s.logger.Info("client connected", "peer", peer)

	entries := s.data.Entries
	first := entries[0].Timestamp

	var offset time.Duration // accumulated re-basing offset across loops
	var lastSent time.Time   // last emitted (re-based) timestamp
	sent := 0

	for pass := 0; ; pass++ {
		prev := first
		for _, entry := range entries {
			// Pace by the original inter-record gap, scaled. Speed <= 0
			// means send as fast as possible.
			if s.cfg.Speed > 0 {
				gap := entry.Timestamp.Sub(prev)
				if gap > 0 {
					delay := time.Duration(float64(gap) / s.cfg.Speed)
					if !s.sleep(ctx, delay) {
						return
					}
				}
			}
			prev = entry.Timestamp

			emitTS := entry.Timestamp.Add(offset)
			if !lastSent.IsZero() && emitTS.Before(lastSent) {
				// Non-monotonic source data surviving re-basing is
				// malformed input: skip, count, keep the stream alive.
				if s.metrics != nil {
					s.metrics.recordsSkipped.Inc()
				}
				continue
			}

			payload, err := json.Marshal(record.Envelope{
				Dataset:   entry.Dataset,
				Sequence:  entry.Sequence,
				Timestamp: record.FormatTimestamp(emitTS),
				Event:     entry.Event,
			})
			if err != nil {
				if s.metrics != nil {
					s.metrics.sendErrors.Inc()
				}
				continue
			}

			if err := frame.WriteFrame(conn, payload); err != nil {
				if s.metrics != nil {
					s.metrics.sendErrors.Inc()
				}
				s.logger.Info("client disconnected", "peer", peer, "records_sent", sent)
				return
			}

			lastSent = emitTS
			sent++
			s.recordsSent.Add(1)
			if s.metrics != nil {
				s.metrics.recordsSent.Inc()
			}
		}

		if !s.cfg.Loop {
			break
		}

		// Re-base the next pass past everything already emitted: the
		// elapsed stream offset of the finished pass plus a synthetic
		// gap keeps timestamps strictly increasing across the boundary.
		offset += s.data.Span() + loopGap
		if s.metrics != nil {
			s.metrics.loopsCompleted.Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}
	}

	s.logger.Info("replay complete", "peer", peer, "records_sent", sent)
}

// sleep waits for d, returning false if the server is shutting down.
func (s *Server) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.shutdown:
		return false
	case <-timer.C:
		return true
	}
}
