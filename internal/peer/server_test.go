package peer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/omochice/chat-relay/internal/peer"
	"github.com/omochice/chat-relay/internal/relay"
	"github.com/omochice/chat-relay/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startServer(t *testing.T, hub *peer.Hub) *peer.Server {
	t.Helper()
	server := peer.NewServer("127.0.0.1:0", hub, time.Second, zaptest.NewLogger(t))
	require.NoError(t, server.Listen())
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Stop)
	return server
}

func TestServer_Addr(t *testing.T) {
	server := peer.NewServer("127.0.0.1:0", peer.NewHub(nil, nil), time.Second, nil)
	assert.Empty(t, server.Addr())

	require.NoError(t, server.Listen())
	defer server.Stop()
	assert.NotEmpty(t, server.Addr())
}

func TestServer_ListenError(t *testing.T) {
	server := peer.NewServer("invalid-address", peer.NewHub(nil, nil), time.Second, nil)
	assert.Error(t, server.Listen())
}

// TestServer_WithRelay runs a relay Manager against a peer Server and checks
// traffic in both directions.
func TestServer_WithRelay(t *testing.T) {
	hub := peer.NewHub(zaptest.NewLogger(t), nil)
	chats := make(chan [2]string, 4)
	hub.OnChat(func(player, message string) {
		chats <- [2]string{player, message}
	})
	server := startServer(t, hub)

	received := make(chan [2]string, 4)
	queue := relay.NewQueue()
	m := relay.New("ws://"+server.Addr(), relay.HandlerFunc(func(sender, message string) {
		received <- [2]string{sender, message}
	}), relay.WithDispatcher(queue), relay.WithReconnectDelay(100*time.Millisecond))
	defer m.Close()

	m.Connect()
	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Send(protocol.StatusUpdate{Online: true, PlayerCount: 2})
	require.Eventually(t, func() bool {
		return hub.Status() == peer.Status{Online: true, PlayerCount: 2}
	}, 2*time.Second, 10*time.Millisecond)

	m.Send(protocol.ChatMessage{Player: "Steve", Message: "hello"})
	select {
	case chat := <-chats:
		assert.Equal(t, [2]string{"Steve", "hello"}, chat)
	case <-time.After(2 * time.Second):
		t.Fatal("chat did not reach the peer")
	}

	assert.Equal(t, 1, hub.Broadcast("Alice", "hi"))
	require.Eventually(t, func() bool { return queue.Drain() > 0 }, 2*time.Second, 10*time.Millisecond)
	select {
	case chat := <-received:
		assert.Equal(t, [2]string{"Alice", "hi"}, chat)
	default:
		t.Fatal("chat was not delivered to the handler")
	}
}

func TestServer_RelayCloseMarksOffline(t *testing.T) {
	hub := peer.NewHub(nil, nil)
	var (
		mu       sync.Mutex
		statuses []peer.Status
	)
	hub.OnStatus(func(s peer.Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})
	server := startServer(t, hub)

	m := relay.New("ws://"+server.Addr(), nil)
	m.Connect()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Send(protocol.PlayerUpdate{Count: 4})
	require.Eventually(t, func() bool { return hub.Status().PlayerCount == 4 }, 2*time.Second, 10*time.Millisecond)

	m.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, peer.Status{}, hub.Status())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, peer.Status{}, statuses[len(statuses)-1])
}

func TestServer_StopDisconnectsRelays(t *testing.T) {
	hub := peer.NewHub(nil, nil)
	server := peer.NewServer("127.0.0.1:0", hub, time.Second, nil)
	require.NoError(t, server.Listen())
	go func() {
		_ = server.Serve()
	}()

	m := relay.New("ws://"+server.Addr(), nil, relay.WithReconnectDelay(time.Hour))
	defer m.Close()
	m.Connect()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	server.Stop()

	assert.Equal(t, 0, hub.ClientCount())
	require.Eventually(t, func() bool { return m.State() == relay.StateDisconnected }, 2*time.Second, 10*time.Millisecond)
}
