package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gobwas/ws"
)

// Upgrade performs the server-side handshake on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request, writeTimeout time.Duration) (*Conn, error) {
	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	c := newConn(conn, rw.Reader, ws.StateServerSide, writeTimeout)
	if r.RemoteAddr != "" {
		c.remoteAddr = r.RemoteAddr
	}
	return c, nil
}
