// Package bridge turns game-server events into relay messages and shows
// chat from the peer to players.
package bridge

import (
	"fmt"
	"strings"

	"github.com/omochice/chat-relay/pkg/protocol"
	"go.uber.org/zap"
)

// Sender is the part of relay.Manager the bridge uses.
type Sender interface {
	Connect()
	Send(msg protocol.Outbound)
	Close()
}

// Broadcaster shows a line to every player on the server.
type Broadcaster interface {
	Broadcast(line string)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(line string)

// Broadcast calls f(line).
func (f BroadcasterFunc) Broadcast(line string) {
	f(line)
}

// Bridge connects server events to a Sender. It also implements
// relay.Handler so the same value can receive chat from the peer.
type Bridge struct {
	sender      Sender
	broadcaster Broadcaster
	logger      *zap.Logger
}

// New creates a Bridge. The sender is usually attached later with Attach,
// because the relay needs the bridge as its handler.
func New(broadcaster Broadcaster, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{broadcaster: broadcaster, logger: logger}
}

// Attach sets the Sender. It must be called before Enable.
func (b *Bridge) Attach(sender Sender) {
	b.sender = sender
}

// Enable starts connecting to the peer.
func (b *Bridge) Enable() {
	b.sender.Connect()
	b.logger.Info("bridge enabled")
}

// Disable reports the server offline and closes the connection. The offline
// status is best-effort: it is dropped if the connection is down.
func (b *Bridge) Disable() {
	b.sender.Send(protocol.StatusUpdate{Online: false, PlayerCount: 0})
	b.sender.Close()
	b.logger.Info("bridge disabled")
}

// PlayerJoined reports the player count after a join. online already
// includes the new player.
func (b *Bridge) PlayerJoined(online int) {
	b.sender.Send(protocol.PlayerUpdate{Count: online})
}

// PlayerQuit reports the player count after a quit. online still includes
// the leaving player.
func (b *Bridge) PlayerQuit(online int) {
	b.sender.Send(protocol.PlayerUpdate{Count: max(0, online-1)})
}

// Chat relays a chat line. Commands (lines starting with "/") stay on the server.
func (b *Bridge) Chat(player, message string) {
	if strings.HasPrefix(message, "/") {
		return
	}
	b.sender.Send(protocol.ChatMessage{Player: player, Message: message})
}

// OnChatReceived shows a peer chat line to the players.
func (b *Bridge) OnChatReceived(sender, message string) {
	b.broadcaster.Broadcast(FormatChat(sender, message))
}

// FormatChat renders a peer chat line for the game chat.
func FormatChat(sender, message string) string {
	return fmt.Sprintf("[Discord] %s: %s", sender, message)
}
