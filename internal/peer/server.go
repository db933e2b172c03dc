package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/chat-relay/internal/transport/ws"
	"go.uber.org/zap"
)

// Server accepts websocket connections from relays and hands them to a Hub.
type Server struct {
	address      string
	hub          *Hub
	writeTimeout time.Duration
	logger       *zap.Logger

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// NewServer creates a Server listening on address.
func NewServer(address string, hub *Hub, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		address:      address,
		hub:          hub,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.logger.Info("peer server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Serve accepts connections until Stop. Listen must have succeeded.
func (s *Server) Serve() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Start listens and serves until Stop.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop stops accepting, closes every relay connection and waits for their
// handlers to finish.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.hub.CloseAll()
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Added before the upgrade hijacks the connection, so Stop cannot miss it.
	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := ws.Upgrade(w, r, s.writeTimeout)
	if err != nil {
		s.logger.Warn("failed to accept websocket connection", zap.Error(err))
		return
	}
	s.hub.HandleClient(&Client{ID: uuid.NewString(), Conn: conn})
}
