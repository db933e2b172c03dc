// Package ws provides the websocket transport shared by the relay and the peer.
// Frames are JSON text messages; control frames are answered while reading.
package ws

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts a gobwas/ws connection to a message-oriented Read/Write API.
// Write and Close are safe for concurrent use; Read must be called from a
// single goroutine.
type Conn struct {
	conn         net.Conn
	reader       io.Reader
	state        ws.State
	writeTimeout time.Duration
	remoteAddr   string

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// newConn wraps conn. br holds bytes the peer sent right after the handshake
// and may be nil.
func newConn(conn net.Conn, br *bufio.Reader, state ws.State, writeTimeout time.Duration) *Conn {
	var reader io.Reader = conn
	if br != nil {
		reader = br
	}
	return &Conn{
		conn:         conn,
		reader:       reader,
		state:        state,
		writeTimeout: writeTimeout,
		remoteAddr:   conn.RemoteAddr().String(),
	}
}

// Read reads a single data frame.
// Ping and close frames are answered internally; a close frame from the peer
// is returned as wsutil.ClosedError.
func (c *Conn) Read() ([]byte, error) {
	rd := wsutil.Reader{
		Source:         c.reader,
		State:          c.state,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, &rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(&rd)
	}
}

// Write sends data as one text frame.
func (c *Conn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFrame(ws.OpText, data)
}

// Close sends a normal-closure frame and closes the socket. Only the first
// call has an effect; later calls return the same result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = c.writeFrame(ws.OpClose, body)
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the remote address for logging.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// writeFrame must be called with c.mu held.
func (c *Conn) writeFrame(op ws.OpCode, data []byte) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	if c.state.ClientSide() {
		return wsutil.WriteClientMessage(c.conn, op, data)
	}
	return wsutil.WriteServerMessage(c.conn, op, data)
}

// handleControl answers a control frame under the write lock so that the
// reply never interleaves with a data frame.
func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.ControlFrameHandler(c.conn, c.state)(hdr, r)
}
