package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"go.uber.org/zap"
)

// Handler serves a single upgraded connection. The connection is closed when
// the handler returns.
type Handler func(conn *Conn)

// Server accepts WebSocket connections and hands each one to a Handler.
type Server struct {
	address  string
	handler  Handler
	logger   *zap.Logger
	listener net.Listener
	server   *http.Server

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewServer creates a WebSocket server that serves every connection with handler.
func NewServer(address string, handler Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		address: address,
		handler: handler,
		logger:  logger,
		conns:   make(map[*Conn]struct{}),
	}
}

// Start binds the listening socket and serves connections in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	s.logger.Info("WebSocket server started", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops accepting connections, closes the active ones and waits for
// their handlers to return.
func (s *Server) Stop() {
	if s.server != nil {
		_ = s.server.Shutdown(context.Background())
	}

	s.mu.Lock()
	s.stopped = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// URL returns the ws:// URL of the listening address.
func (s *Server) URL() string {
	return "ws://" + s.Addr()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	netConn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	var buffered []byte
	if rw != nil {
		buffered = drain(rw.Reader)
	}
	conn := newConn(netConn, buffered, ServerSide, r.RemoteAddr)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			_ = conn.Close()
		}()
		s.handler(conn)
	}()
}
