package relay

import (
	"context"
	"time"

	"github.com/omochice/chat-relay/internal/transport/ws"
	"go.uber.org/zap"
)

const (
	// DefaultReconnectDelay is the wait between a failure and the next attempt.
	DefaultReconnectDelay   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultCloseTimeout     = 3 * time.Second
)

// Conn is a live message-oriented connection to the peer.
// Write and Close must be safe for concurrent use.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer opens connections to the endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial calls f(ctx, endpoint).
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

// wsDialer dials websocket connections with gobwas/ws.
type wsDialer struct {
	dialer ws.Dialer
}

func (d wsDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, err := d.dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type options struct {
	reconnectDelay   time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	closeTimeout     time.Duration
	dialer           Dialer
	dispatcher       Dispatcher
	logger           *zap.Logger
	metrics          *Metrics
}

func defaultOptions() options {
	return options{
		reconnectDelay:   DefaultReconnectDelay,
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
		closeTimeout:     DefaultCloseTimeout,
		logger:           zap.NewNop(),
	}
}

// Option configures a Manager.
type Option func(*options)

// WithReconnectDelay sets the fixed delay before a reconnect attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconnectDelay = d
		}
	}
}

// WithHandshakeTimeout bounds each connection attempt. Zero disables the bound.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// WithWriteTimeout bounds each frame write of the default dialer's connections.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithCloseTimeout bounds how long Close waits for the socket to shut down.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.closeTimeout = d
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithDispatcher sets where inbound handler calls run. Without it the
// Manager runs them on its own delivery goroutine.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
