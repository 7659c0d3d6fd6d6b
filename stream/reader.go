// Package stream provides the client side of the replay wire protocol:
// a reconnecting TCP reader that yields normalized records in arrival
// order.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/errors"
	"github.com/c360/retailstreams/pkg/frame"
	"github.com/c360/retailstreams/pkg/retry"
	"github.com/c360/retailstreams/record"
)

// pollInterval bounds how long a blocked read goes without checking for
// cancellation or shutdown.
const pollInterval = 100 * time.Millisecond

// Reader reads line-framed record envelopes from the replay server. It
// is a single sequential consumer: Read must not be called
// concurrently. Close may be called from any goroutine and releases the
// connection promptly, even mid-read.
type Reader struct {
	cfg    config.ReaderConfig
	logger *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	scanner *frame.Scanner

	yielded    int
	closed     atomic.Bool
	malformed  atomic.Int64
	reconnects atomic.Int64

	// warnedCauses tracks malformed-line causes already logged, so each
	// distinct cause is reported at most once.
	warnedCauses map[string]struct{}
}

// NewReader creates a stream reader; no connection is made until the
// first Read.
func NewReader(cfg config.ReaderConfig, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default().With("component", "stream-reader")
	}
	return &Reader{
		cfg:          cfg,
		logger:       logger,
		warnedCauses: make(map[string]struct{}),
	}
}

// Malformed reports how many lines were skipped as unparseable.
func (r *Reader) Malformed() int64 { return r.malformed.Load() }

// Reconnects reports how many reconnection attempts were made.
func (r *Reader) Reconnects() int64 { return r.reconnects.Load() }

// Close releases the reader. A blocked Read returns promptly with
// ErrStreamClosed.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.dropConn()
	return nil
}

func (r *Reader) dropConn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
		r.scanner = nil
	}
}

// connect dials the server, retrying with exponential backoff when
// reconnect is enabled. Exhausting the attempt cap is terminal.
func (r *Reader) connect(ctx context.Context) error {
	addr := net.JoinHostPort(r.cfg.Host, fmt.Sprintf("%d", r.cfg.Port))

	cfg := r.cfg.Retry
	if !r.cfg.Reconnect {
		cfg.MaxAttempts = 1
	}
	cfg.OnAttempt = func(attempt int, lastErr error) {
		r.reconnects.Add(1)
		r.logger.Debug("reconnecting", "attempt", attempt, "last_error", lastErr)
	}

	conn, err := retry.DoWithResult(ctx, cfg, func() (net.Conn, error) {
		if r.closed.Load() {
			return nil, retry.NonRetryable(errors.ErrStreamClosed)
		}
		return net.DialTimeout("tcp", addr, 5*time.Second)
	})
	if err != nil {
		if errors.Is(err, errors.ErrStreamClosed) {
			return errors.ErrStreamClosed
		}
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrMaxRetriesExceeded, err),
			"stream-reader", "connect", "dial "+addr)
	}

	r.mu.Lock()
	r.conn = conn
	r.scanner = frame.NewScanner(conn)
	r.mu.Unlock()

	// Close raced with a successful dial; release the socket.
	if r.closed.Load() {
		r.dropConn()
		return errors.ErrStreamClosed
	}
	return nil
}

// Read returns the next record in arrival order. It returns io.EOF
// after the configured limit, or when the server closes the stream and
// reconnection is disabled. Reconnect exhaustion surfaces a terminal
// error wrapping ErrMaxRetriesExceeded. Malformed lines are skipped and
// counted, never returned as errors.
func (r *Reader) Read(ctx context.Context) (record.RawRecord, error) {
	lastData := time.Now()

	for {
		if r.closed.Load() {
			return record.RawRecord{}, errors.ErrStreamClosed
		}
		if err := ctx.Err(); err != nil {
			return record.RawRecord{}, err
		}
		if r.cfg.Limit > 0 && r.yielded >= r.cfg.Limit {
			return record.RawRecord{}, io.EOF
		}

		r.mu.Lock()
		conn, scanner := r.conn, r.scanner
		r.mu.Unlock()

		if conn == nil {
			if err := r.connect(ctx); err != nil {
				return record.RawRecord{}, err
			}
			lastData = time.Now()
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		line, err := scanner.Next()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if timeout := r.cfg.ReadTimeout.Std(); timeout > 0 && time.Since(lastData) > timeout {
					// Silent peer: treat like a lost connection.
					r.logger.Warn("read timeout, dropping connection", "idle", time.Since(lastData))
					r.dropConn()
					if !r.cfg.Reconnect {
						return record.RawRecord{}, errors.WrapTransient(errors.ErrConnectionTimeout,
							"stream-reader", "Read", "idle stream")
					}
				}
				continue
			}

			// EOF or hard connection error.
			r.dropConn()
			if r.closed.Load() {
				return record.RawRecord{}, errors.ErrStreamClosed
			}
			if !r.cfg.Reconnect {
				if err == io.EOF {
					return record.RawRecord{}, io.EOF
				}
				return record.RawRecord{}, errors.WrapTransient(err, "stream-reader", "Read", "connection read")
			}
			continue
		}

		lastData = time.Now()

		rec, err := record.Parse(line)
		if err != nil {
			r.countMalformed(err)
			continue
		}

		r.yielded++
		return rec, nil
	}
}

// countMalformed counts a skipped line and logs each distinct cause at
// most once.
func (r *Reader) countMalformed(err error) {
	r.malformed.Add(1)

	cause := err.Error()
	if len(cause) > 120 {
		cause = cause[:120]
	}
	r.mu.Lock()
	_, seen := r.warnedCauses[cause]
	if !seen {
		r.warnedCauses[cause] = struct{}{}
	}
	r.mu.Unlock()
	if !seen {
		r.logger.Warn("skipping malformed record", "cause", cause)
	}
}

// Records returns a channel yielding the remaining records lazily. The
// channel closes on end of stream or cancellation; a terminal error is
// available from the returned error function afterwards.
func (r *Reader) Records(ctx context.Context) (<-chan record.RawRecord, func() error) {
	out := make(chan record.RawRecord)
	var terminal error
	var once sync.Once

	go func() {
		defer close(out)
		for {
			rec, err := r.Read(ctx)
			if err != nil {
				if err != io.EOF && !errors.Is(err, errors.ErrStreamClosed) && ctx.Err() == nil {
					once.Do(func() { terminal = err })
				}
				return
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() error { return terminal }
}
