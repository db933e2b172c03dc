// Package peer implements the bridge side of the relay protocol: it accepts
// relay connections, tracks the game server status they report and sends
// chat back to them.
package peer

import (
	"errors"
	"sync"

	"github.com/omochice/chat-relay/pkg/protocol"
	"go.uber.org/zap"
)

// Conn abstracts an accepted relay connection.
type Conn interface {
	// Read reads a single frame.
	Read() ([]byte, error)

	// Write sends a single frame.
	Write(data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Client is one connected relay.
type Client struct {
	ID   string
	Conn Conn
}

// Status is the game server state as last reported by the relays.
type Status struct {
	Online      bool
	PlayerCount int
}

// Hub keeps the connected relays and the reported server status.
type Hub struct {
	clients map[*Client]bool
	status  Status
	mu      sync.RWMutex

	onChat   func(player, message string)
	onStatus func(Status)
	logger   *zap.Logger
	metrics  *Metrics
}

// NewHub creates a new Hub. logger and metrics may be nil.
func NewHub(logger *zap.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  logger,
		metrics: metrics,
	}
}

// OnChat sets the callback for chat coming from the game server.
// It must be set before clients connect.
func (h *Hub) OnChat(fn func(player, message string)) {
	h.onChat = fn
}

// OnStatus sets the callback fired after every status change.
// It must be set before clients connect.
func (h *Hub) OnStatus(fn func(Status)) {
	h.onStatus = fn
}

// Register adds a client. A connected relay means the server is online.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.status.Online = true
	status := h.status
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.setRelays(count)
	h.logger.Info("relay connected", zap.String("client", client.ID), zap.String("addr", client.Conn.RemoteAddr()))
	h.notify(status)
}

// Unregister removes a client. When the last relay leaves the server is
// considered offline with no players.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	if len(h.clients) == 0 {
		h.status = Status{}
	}
	status := h.status
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.setRelays(count)
	h.logger.Info("relay disconnected", zap.String("client", client.ID))
	h.notify(status)
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Status returns the last reported server status.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// HandleClient registers client and processes its frames until the
// connection fails, then unregisters it.
func (h *Hub) HandleClient(client *Client) {
	h.Register(client)
	defer func() {
		h.Unregister(client)
		_ = client.Conn.Close()
	}()

	for {
		data, err := client.Conn.Read()
		if err != nil {
			h.logger.Debug("read ended", zap.String("client", client.ID), zap.Error(err))
			return
		}
		h.HandleFrame(client, data)
	}
}

// HandleFrame applies one frame from client. Unknown and malformed frames
// are ignored.
func (h *Hub) HandleFrame(client *Client, data []byte) {
	msg, err := protocol.DecodeOutbound(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			h.metrics.frame("unknown")
			h.logger.Debug("ignoring frame", zap.String("client", client.ID), zap.Error(err))
		} else {
			h.metrics.frame("malformed")
			h.logger.Warn("dropping malformed frame", zap.String("client", client.ID), zap.Error(err))
		}
		return
	}
	h.metrics.frame(msg.Type().String())

	switch m := msg.(type) {
	case protocol.StatusUpdate:
		h.update(func(s *Status) {
			s.Online = m.Online
			if !m.NoPlayerCount {
				s.PlayerCount = m.PlayerCount
			}
		})
	case protocol.PlayerUpdate:
		h.update(func(s *Status) {
			s.PlayerCount = m.Count
		})
	case protocol.ChatMessage:
		if h.onChat != nil {
			h.onChat(m.Player, m.Message)
		}
	}
}

// Broadcast sends a chat line to every connected relay and returns how many
// writes succeeded.
func (h *Hub) Broadcast(sender, message string) int {
	data, err := protocol.EncodeInbound(protocol.ChatReceived{Sender: sender, Message: message})
	if err != nil {
		h.logger.Error("failed to encode chat", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if err := c.Conn.Write(data); err != nil {
			h.logger.Warn("failed to write to relay", zap.String("client", c.ID), zap.Error(err))
			continue
		}
		sent++
	}
	h.metrics.broadcast()
	return sent
}

// CloseAll closes every client connection. Their read loops then unregister them.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.Conn.Close()
	}
}

func (h *Hub) update(apply func(s *Status)) {
	h.mu.Lock()
	apply(&h.status)
	status := h.status
	h.mu.Unlock()
	h.notify(status)
}

func (h *Hub) notify(status Status) {
	h.metrics.setStatus(status)
	if h.onStatus != nil {
		h.onStatus(status)
	}
}
