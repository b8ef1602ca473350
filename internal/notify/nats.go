package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"clausewise.app/analyzer/common/resilience"
)

func natsSubject(room string) string {
	return "analysis." + room
}

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

type NATSOptions struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Guard          *resilience.Guard
}

type NATSNotifier struct {
	conn  natsPublisher
	close func()
	guard *resilience.Guard
}

func NewNATSNotifier(url string, opts NATSOptions) (*NATSNotifier, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("analyzer"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATSNotifier{conn: conn, close: conn.Close, guard: opts.Guard}, nil
}

func (n *NATSNotifier) Publish(ctx context.Context, room, event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}

	subject := natsSubject(room)
	call := func(context.Context) error {
		if err := n.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish (subject=%s): %w", subject, err)
		}
		return nil
	}

	if n.guard == nil {
		return call(ctx)
	}
	return n.guard.Do(ctx, resilience.Call{Dependency: "nats", Stage: event, Classify: classifyNATSError}, call)
}

func (n *NATSNotifier) Close() {
	if n.close != nil {
		n.close()
	}
}

func classifyNATSError(_ context.Context, err error) resilience.Verdict {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Final
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, nats.ErrDisconnected):
		return resilience.Transient
	case errors.Is(err, nats.ErrNoServers), errors.Is(err, nats.ErrConnectionClosed):
		// A closed connection will not come back within one event's retries.
		return resilience.Down
	case errors.Is(err, nats.ErrMaxPayload), errors.Is(err, nats.ErrBadSubject):
		return resilience.Final
	default:
		return resilience.Down
	}
}
