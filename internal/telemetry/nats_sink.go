package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/sanitize"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSSink publishes each envelope as JSON on
// <prefix>.<kind>.<sanitized name>. The client buffers outgoing messages,
// so Send returns once the message is queued.
type NATSSink struct {
	conn         *nats.Conn
	prefix       string
	flushTimeout time.Duration
	closed       chan struct{}
}

// NewNATSSink connects to d.Endpoint.
func NewNATSSink(d Descriptor, cfg NATSConfig, logger *logging.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("nats")

	prefix := cfg.SubjectPrefix
	if d.Subject != "" {
		prefix = d.Subject
	}

	s := &NATSSink{
		prefix:       prefix,
		flushTimeout: cfg.FlushTimeout.Duration(),
		closed:       make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.ConnectTimeout.Duration()),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrlRedacted()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			close(s.closed)
		}),
	}
	if d.InstrumentationKey.IsSet() {
		opts = append(opts, nats.Token(d.InstrumentationKey.Value()))
	}

	conn, err := nats.Connect(d.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	s.conn = conn
	return s, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject env is published on.
func (s *NATSSink) Subject(env Envelope) string {
	return s.prefix + "." + string(env.Kind) + "." + sanitize.SubjectToken(env.Name)
}

func (s *NATSSink) Send(_ context.Context, env Envelope) error {
	if s.conn.IsClosed() {
		return ErrSinkClosed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := s.conn.Publish(s.Subject(env), data); err != nil {
		return fmt.Errorf("publishing %s: %w", env.Kind, err)
	}
	return nil
}

// Flush waits for the server to acknowledge buffered messages.
func (s *NATSSink) Flush(ctx context.Context) error {
	if s.conn.IsClosed() {
		return ErrSinkClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.flushTimeout)
		defer cancel()
	}
	return s.conn.FlushWithContext(ctx)
}

// Close drains the connection, waiting for buffered messages to be sent
// until ctx is done.
func (s *NATSSink) Close(ctx context.Context) error {
	if s.conn.IsClosed() {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		s.conn.Close()
		return ctx.Err()
	}
}
