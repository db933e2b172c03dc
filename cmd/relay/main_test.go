package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/omochice/chat-relay/internal/bridge"
	"github.com/omochice/chat-relay/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.Outbound
}

func (s *recordingSender) Connect() {}
func (s *recordingSender) Close()   {}

func (s *recordingSender) Send(msg protocol.Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
}

func TestHost_Handle(t *testing.T) {
	sender := &recordingSender{}
	b := bridge.New(nil, nil)
	b.Attach(sender)
	h := &host{bridge: b, player: "Steve"}

	for _, line := range []string{"/join", "/join", "  hello  ", "", "/help", "/quit", "/quit", "/quit"} {
		h.handle(line)
	}

	assert.Equal(t, []protocol.Outbound{
		protocol.PlayerUpdate{Count: 1},
		protocol.PlayerUpdate{Count: 2},
		protocol.ChatMessage{Player: "Steve", Message: "hello"},
		protocol.PlayerUpdate{Count: 1},
		protocol.PlayerUpdate{Count: 0},
	}, sender.sent)
	assert.Equal(t, 0, h.online)
}

func TestReadLines(t *testing.T) {
	lines := make(chan string)
	go readLines(strings.NewReader("a\nb\n"), lines)

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRootCmd_InvalidEndpoint(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--env-file", "", "--endpoint", "http://localhost:1"})
	cmd.SetOut(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
