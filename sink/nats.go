package sink

import (
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/dedup"
	"github.com/c360/retailstreams/errors"
)

// NATSPublisher mirrors canonical events onto a NATS subject for
// downstream consumers. Publishing is best-effort: failures are counted
// and logged, never surfaced to the commit path.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	metrics *Metrics
	logger  *slog.Logger
}

// NewNATSPublisher connects to the configured NATS server. An empty URL
// returns (nil, nil): a nil publisher is a valid disabled mirror.
func NewNATSPublisher(cfg config.SinkConfig, metrics *Metrics, logger *slog.Logger) (*NATSPublisher, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default().With("component", "nats-publisher")
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("retailstreams-sink"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSPublisher", "NewNATSPublisher", "connect to NATS")
	}

	return &NATSPublisher{
		conn:    conn,
		subject: cfg.NATSSubject,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Append implements Sink.
func (p *NATSPublisher) Append(event dedup.CanonicalEvent) error {
	if p == nil {
		return nil
	}
	line, err := event.Encode()
	if err != nil {
		return nil
	}
	if err := p.conn.Publish(p.subject, line); err != nil {
		p.metrics.incNATSErrors()
		p.logger.Warn("nats publish failed", "subject", p.subject, "error", err)
		return nil
	}
	p.metrics.incNATSPublished()
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return nil
	}
	return nil
}
