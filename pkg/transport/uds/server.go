package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// HandlerFunc processes a request and returns a response data payload or error.
type HandlerFunc func(ctx context.Context, req Message) (any, error)

// Server listens on a Unix domain socket and dispatches NDJSON messages.
type Server struct {
	socketPath string
	listener   net.Listener
	handlers   map[string]HandlerFunc
	clients    map[*clientConn]struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// writeTimeout bounds a single message write. A client that stops
// reading its socket must not stall the broadcast path for everyone
// else; it times out here and gets disconnected.
const writeTimeout = 5 * time.Second

// clientConn serializes writes: responses and broadcast events share
// one stream, and interleaved writes would corrupt the framing.
type clientConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *clientConn) writeMessage(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = c.conn.Write(data)
	return err
}

// NewServer creates a new UDS server.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[*clientConn]struct{}),
		logger:     logger,
	}
}

// Handle registers a handler for a method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// Start begins listening. It removes any stale socket file first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.listener = ln
	s.logger.Info("server listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil // shutting down
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		cc := &clientConn{conn: conn}
		s.mu.Lock()
		s.clients[cc] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(ctx, cc)
	}
}

// Broadcast sends an event to all connected clients.
func (s *Server) Broadcast(msg Message) {
	s.mu.RLock()
	clients := make([]*clientConn, 0, len(s.clients))
	for cc := range s.clients {
		clients = append(clients, cc)
	}
	s.mu.RUnlock()

	for _, cc := range clients {
		if err := cc.writeMessage(msg); err != nil {
			s.logger.Error("broadcast write error, dropping client", "err", err)
			// Closing the conn makes the client's read loop exit and
			// handleConn deregister it.
			cc.conn.Close()
		}
	}
}

// Shutdown cleanly stops the server.
func (s *Server) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for cc := range s.clients {
		cc.conn.Close()
	}
	s.mu.Unlock()
	os.Remove(s.socketPath)
}

func (s *Server) handleConn(ctx context.Context, cc *clientConn) {
	defer func() {
		cc.conn.Close()
		s.mu.Lock()
		delete(s.clients, cc)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(cc.conn)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024) // 1MB max line

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Error("invalid message", "err", err)
			continue
		}

		if msg.Type != MsgTypeReq {
			continue
		}

		handler, ok := s.handlers[msg.Method]
		if !ok {
			s.send(cc, NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method)))
			continue
		}

		result, err := handler(ctx, msg)
		if err != nil {
			s.send(cc, NewErrorResponse(msg.ID, msg.Method, err.Error()))
			continue
		}
		resp, err := NewResponse(msg.ID, msg.Method, result)
		if err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		}
		s.send(cc, resp)
	}
}

func (s *Server) send(cc *clientConn, msg Message) {
	if err := cc.writeMessage(msg); err != nil {
		s.logger.Error("write response error", "err", err)
	}
}
