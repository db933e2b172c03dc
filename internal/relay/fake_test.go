package relay_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/omochice/chat-relay/internal/relay"
)

var errRefused = errors.New("connection refused")

// fakeConn is an in-memory relay.Conn. The test plays the peer through
// inbound, written and remoteClose.
type fakeConn struct {
	inbound chan []byte
	written chan []byte

	mu       sync.Mutex
	writeErr error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		written: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Write(data []byte) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.written <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// remoteClose simulates the peer dropping the connection.
func (c *fakeConn) remoteClose() {
	_ = c.Close()
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// dialResult is what fakeDialer returns for one attempt. A nil conn with a
// nil err blocks until the dial context is done.
type dialResult struct {
	conn *fakeConn
	err  error
}

// fakeDialer records attempts and replays queued results. Once the queue is
// empty every attempt fails.
type fakeDialer struct {
	mu       sync.Mutex
	results  []dialResult
	attempts []time.Time
	delay    time.Duration
}

func (d *fakeDialer) push(results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, results...)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (relay.Conn, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, time.Now())
	var res dialResult
	if len(d.results) > 0 {
		res = d.results[0]
		d.results = d.results[1:]
	} else {
		res = dialResult{err: errRefused}
	}
	delay := d.delay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if res.conn == nil && res.err == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}

func (d *fakeDialer) attempt(i int) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[i]
}

// chatRecorder collects handler calls.
type chatRecorder struct {
	calls chan [2]string
}

func newChatRecorder() *chatRecorder {
	return &chatRecorder{calls: make(chan [2]string, 16)}
}

func (r *chatRecorder) OnChatReceived(sender, message string) {
	r.calls <- [2]string{sender, message}
}
