// Package relay keeps a long-lived websocket connection to the chat peer.
//
// A Manager owns one worker goroutine that runs connection attempts and
// reconnect timers, so failure handling is serialized without locks. Sends
// are accepted from any goroutine and silently dropped unless the connection
// is up. Inbound chat is handed to a Dispatcher instead of being run on the
// socket reader.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/chat-relay/internal/transport/ws"
	"github.com/omochice/chat-relay/pkg/protocol"
	"go.uber.org/zap"
)

const taskQueueSize = 64

// Handler receives chat messages from the peer.
type Handler interface {
	OnChatReceived(sender, message string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(sender, message string)

// OnChatReceived calls f(sender, message).
func (f HandlerFunc) OnChatReceived(sender, message string) {
	f(sender, message)
}

// session is one live socket. id distinguishes a failure report for the
// current socket from a late report about a replaced one.
type session struct {
	id   uint64
	conn Conn
}

// Manager maintains the connection to a single endpoint.
type Manager struct {
	endpoint string
	handler  Handler
	opts     options
	logger   *zap.Logger

	state   atomic.Int32
	session atomic.Pointer[session]

	tasks     chan func()
	connReq   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the worker goroutine.
	reconnect *time.Timer
	timerSeq  uint64
	sessionID uint64
}

// New creates a Manager for endpoint and starts its worker. handler may be
// nil if the host does not care about inbound chat. Call Close to release
// the worker.
func New(endpoint string, handler Handler, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if o.dispatcher == nil {
		q := NewQueue()
		go q.Run(ctx)
		o.dispatcher = q
	}
	if o.dialer == nil {
		o.dialer = wsDialer{dialer: ws.Dialer{WriteTimeout: o.writeTimeout}}
	}

	m := &Manager{
		endpoint: endpoint,
		handler:  handler,
		opts:     o,
		logger:   o.logger.With(zap.String("endpoint", endpoint)),
		tasks:    make(chan func(), taskQueueSize),
		connReq:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.opts.metrics.setState(StateDisconnected)

	go m.run()
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Connected reports whether messages are currently being written.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Endpoint returns the URL the Manager connects to.
func (m *Manager) Endpoint() string {
	return m.endpoint
}

// Connect asks the worker to start connecting. It does not block. Calls while
// an attempt is in flight or a connection is up have no effect.
func (m *Manager) Connect() {
	if m.State() == StateShuttingDown {
		return
	}
	// A pending request already covers this one.
	select {
	case m.connReq <- struct{}{}:
	default:
	}
}

// Send writes msg if the connection is up and drops it otherwise.
// Write failures are handled by reconnecting, never returned.
func (m *Manager) Send(msg protocol.Outbound) {
	if m.State() != StateConnected {
		m.opts.metrics.dropped(dropNotConnected)
		return
	}
	s := m.session.Load()
	if s == nil {
		m.opts.metrics.dropped(dropNotConnected)
		return
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		m.logger.Error("failed to encode message", zap.Stringer("type", msg.Type()), zap.Error(err))
		m.opts.metrics.dropped(dropEncode)
		return
	}

	if err := s.conn.Write(data); err != nil {
		m.logger.Debug("failed to send message", zap.Stringer("type", msg.Type()), zap.Error(err))
		m.opts.metrics.dropped(dropWrite)
		m.post(func() { m.onFailure(s, err) })
		return
	}
	m.opts.metrics.sent()
}

// Close stops reconnecting, closes the live socket and releases the worker.
// It waits at most the close timeout. Later calls do nothing.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.state.Store(int32(StateShuttingDown))
		m.opts.metrics.setState(StateShuttingDown)
		m.cancel()

		timer := time.NewTimer(m.opts.closeTimeout)
		defer timer.Stop()
		select {
		case <-m.done:
			m.logger.Info("relay closed")
		case <-timer.C:
			m.logger.Warn("timed out waiting for connection to close", zap.Duration("timeout", m.opts.closeTimeout))
		}
	})
}

// post queues task for the worker. Tasks posted after Close are discarded.
func (m *Manager) post(task func()) {
	select {
	case m.tasks <- task:
	case <-m.ctx.Done():
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return
		case task := <-m.tasks:
			task()
		case <-m.connReq:
			m.attempt()
		}
	}
}

func (m *Manager) shutdown() {
	// A transition that won its CAS just before Close may have set the
	// gauge after Close did.
	m.opts.metrics.setState(StateShuttingDown)
	m.stopReconnect()
	if s := m.session.Swap(nil); s != nil {
		if err := s.conn.Close(); err != nil {
			m.logger.Debug("error closing connection", zap.Error(err))
		}
	}
}

// transition moves from one state to another. It fails if the state changed
// underneath, most notably when Close has already run.
func (m *Manager) transition(from, to State) bool {
	if !m.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	m.opts.metrics.setState(m.State())
	m.logger.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	return true
}

// attempt dials the endpoint. Runs on the worker.
func (m *Manager) attempt() {
	if !m.transition(StateDisconnected, StateConnecting) {
		return
	}
	m.stopReconnect()

	ctx := m.ctx
	if m.opts.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.handshakeTimeout)
		defer cancel()
	}

	conn, err := m.opts.dialer.Dial(ctx, m.endpoint)
	if err != nil {
		m.opts.metrics.connectAttempt(false)
		if m.ctx.Err() != nil {
			return
		}
		m.logger.Warn("failed to connect", zap.Error(err))
		if m.transition(StateConnecting, StateDisconnected) {
			m.scheduleReconnect()
		}
		return
	}
	m.opts.metrics.connectAttempt(true)
	m.onOpen(conn)
}

// onOpen publishes a freshly dialed connection. Runs on the worker.
func (m *Manager) onOpen(conn Conn) {
	m.sessionID++
	s := &session{id: m.sessionID, conn: conn}

	// The session is stored first so that Send never sees Connected
	// without a socket.
	m.session.Store(s)
	if !m.transition(StateConnecting, StateConnected) {
		m.session.CompareAndSwap(s, nil)
		_ = conn.Close()
		return
	}

	m.logger.Info("connected to peer", zap.Uint64("session", s.id))
	go m.readLoop(s)
}

// onFailure tears down s after a read or write error. Runs on the worker.
// Only the first report for the current session has an effect.
func (m *Manager) onFailure(s *session, err error) {
	if !m.session.CompareAndSwap(s, nil) {
		return
	}
	_ = s.conn.Close()

	if !m.transition(StateConnected, StateDisconnected) {
		return
	}
	m.logger.Warn("connection lost", zap.Uint64("session", s.id), zap.Error(err))
	m.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer unless one is pending.
// Runs on the worker.
func (m *Manager) scheduleReconnect() {
	if m.State() == StateShuttingDown || m.reconnect != nil {
		return
	}

	m.timerSeq++
	seq := m.timerSeq
	m.reconnect = time.AfterFunc(m.opts.reconnectDelay, func() {
		m.post(func() { m.fireReconnect(seq) })
	})
	m.opts.metrics.reconnectScheduled()
	m.logger.Info("reconnect scheduled", zap.Duration("delay", m.opts.reconnectDelay))
}

func (m *Manager) fireReconnect(seq uint64) {
	if m.reconnect == nil || seq != m.timerSeq {
		return
	}
	m.reconnect = nil
	m.attempt()
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// readLoop reads frames from s until it fails.
func (m *Manager) readLoop(s *session) {
	for {
		data, err := s.conn.Read()
		if err != nil {
			m.post(func() { m.onFailure(s, err) })
			return
		}
		m.deliver(data)
	}
}

// deliver decodes a frame and hands chat to the handler. Bad or unknown
// frames are dropped without affecting the connection.
func (m *Manager) deliver(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		m.opts.metrics.received(kindMalformed)
		m.logger.Debug("dropping malformed frame", zap.Error(err))
		return
	}

	switch msg := msg.(type) {
	case protocol.ChatReceived:
		m.opts.metrics.received(kindChat)
		if m.handler == nil {
			return
		}
		m.opts.dispatcher.Dispatch(func() {
			if m.State() == StateShuttingDown {
				return
			}
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("chat handler panicked", zap.Any("panic", r), zap.Stack("stack"))
				}
			}()
			m.handler.OnChatReceived(msg.Sender, msg.Message)
		})
	case protocol.Ignored:
		m.opts.metrics.received(kindIgnored)
		m.logger.Debug("ignoring frame", zap.String("type", msg.Type))
	}
}
