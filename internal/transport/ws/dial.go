package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gobwas/ws"
)

// Dialer opens client-side connections.
type Dialer struct {
	// HandshakeTimeout bounds the TCP connect plus the HTTP upgrade.
	// Zero means no limit other than the context.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write on the resulting Conn.
	WriteTimeout time.Duration
}

// Dial connects to a ws:// or wss:// URL. Cancelling ctx aborts the handshake.
func (d Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := ws.Dialer{Timeout: d.HandshakeTimeout}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return newConn(conn, br, ws.StateClientSide, d.WriteTimeout), nil
}
