package bridge_test

import (
	"testing"

	"github.com/omochice/chat-relay/internal/bridge"
	"github.com/omochice/chat-relay/internal/relay"
	"github.com/omochice/chat-relay/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

type recordingSender struct {
	connects int
	closes   int
	sent     []protocol.Outbound
	// lateSends counts sends after Close.
	lateSends int
}

func (s *recordingSender) Connect() { s.connects++ }

func (s *recordingSender) Send(msg protocol.Outbound) {
	if s.closes > 0 {
		s.lateSends++
		return
	}
	s.sent = append(s.sent, msg)
}

func (s *recordingSender) Close() { s.closes++ }

func newBridge() (*bridge.Bridge, *recordingSender, *[]string) {
	lines := &[]string{}
	b := bridge.New(bridge.BroadcasterFunc(func(line string) {
		*lines = append(*lines, line)
	}), nil)
	sender := &recordingSender{}
	b.Attach(sender)
	return b, sender, lines
}

func TestBridge_EnableDisable(t *testing.T) {
	b, sender, _ := newBridge()

	b.Enable()
	assert.Equal(t, 1, sender.connects)

	b.Disable()
	assert.Equal(t, []protocol.Outbound{protocol.StatusUpdate{Online: false, PlayerCount: 0}}, sender.sent)
	assert.Equal(t, 1, sender.closes)
	assert.Equal(t, 0, sender.lateSends)
}

func TestBridge_PlayerCounts(t *testing.T) {
	tests := []struct {
		name   string
		event  func(b *bridge.Bridge)
		expect protocol.Outbound
	}{
		{"join", func(b *bridge.Bridge) { b.PlayerJoined(3) }, protocol.PlayerUpdate{Count: 3}},
		{"quit", func(b *bridge.Bridge) { b.PlayerQuit(3) }, protocol.PlayerUpdate{Count: 2}},
		{"last player quits", func(b *bridge.Bridge) { b.PlayerQuit(1) }, protocol.PlayerUpdate{Count: 0}},
		{"quit never goes negative", func(b *bridge.Bridge) { b.PlayerQuit(0) }, protocol.PlayerUpdate{Count: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, sender, _ := newBridge()
			tt.event(b)
			assert.Equal(t, []protocol.Outbound{tt.expect}, sender.sent)
		})
	}
}

func TestBridge_Chat(t *testing.T) {
	b, sender, _ := newBridge()

	b.Chat("Steve", "hello")
	b.Chat("Steve", "/home")
	b.Chat("Alex", "path /a/b is fine")

	assert.Equal(t, []protocol.Outbound{
		protocol.ChatMessage{Player: "Steve", Message: "hello"},
		protocol.ChatMessage{Player: "Alex", Message: "path /a/b is fine"},
	}, sender.sent)
}

func TestBridge_OnChatReceived(t *testing.T) {
	b, _, lines := newBridge()

	var h relay.Handler = b
	h.OnChatReceived("Alice", "hi there")

	assert.Equal(t, []string{"[Discord] Alice: hi there"}, *lines)
}

func TestBridge_DisableWithRelayDown(t *testing.T) {
	b := bridge.New(bridge.BroadcasterFunc(func(string) {}), nil)
	m := relay.New("ws://127.0.0.1:1", b, relay.WithDialer(relay.DialerFunc(nil)))
	b.Attach(m)

	assert.NotPanics(t, b.Disable)
	assert.Equal(t, relay.StateShuttingDown, m.State())
}
