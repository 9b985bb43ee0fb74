package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc processes one request. A non-nil result is encoded into the
// response's data field; an error becomes {ok: false, error: ...}.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// ServerConfig holds server timeouts.
type ServerConfig struct {
	ReadTimeout    time.Duration // Idle time allowed between requests
	WriteTimeout   time.Duration
	MaxMessageSize int
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: MaxMessageSize,
	}
}

// Server serves the control protocol on a listener. A connection may carry
// any number of request/response exchanges until the client closes it.
type Server struct {
	listener net.Listener
	config   ServerConfig
	handlers map[string]HandlerFunc
	logger   *zap.Logger

	active sync.WaitGroup
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer creates a server on an already bound listener.
func NewServer(listener net.Listener, config ServerConfig, logger *zap.Logger) *Server {
	defaults := DefaultServerConfig()
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	return &Server{
		listener: listener,
		config:   config,
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Handle registers the handler for an action. Must be called before Serve.
func (s *Server) Handle(action string, handler HandlerFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("ipc: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener, interrupts idle connections and waits for in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.interruptIdle()
	}()

	s.logger.Info("control socket listening", zap.String("addr", s.listener.Addr().String()))

	var serveErr error
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			serveErr = fmt.Errorf("failed to accept connection: %w", err)
			break
		}

		s.track(conn, true)
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			defer s.track(conn, false)
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return serveErr
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// interruptIdle unblocks connections waiting for their next request.
func (s *Server) interruptIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.SetReadDeadline(time.Now())
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		// Checked after setting the deadline so a shutdown that raced
		// with it is not lost.
		if ctx.Err() != nil {
			return
		}

		var req Request
		if err := ReadMessage(conn, s.config.MaxMessageSize, &req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}
			s.logger.Debug("invalid request", zap.Error(err))
			s.write(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
			// The stream position is unknown after a bad frame.
			return
		}

		s.write(conn, s.dispatch(ctx, &req))
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	if req.Action == "" {
		return Response{Error: "missing required field: action"}
	}
	handler, exists := s.handlers[req.Action]
	if !exists {
		return Response{Error: fmt.Sprintf("unknown action %q", req.Action)}
	}

	result, err := handler(ctx, req)
	if err != nil {
		s.logger.Debug("action failed", zap.String("action", req.Action), zap.Error(err))
		return Response{Error: err.Error()}
	}

	resp := Response{OK: true}
	if result != nil {
		data, err := Marshal(result)
		if err != nil {
			return Response{Error: fmt.Sprintf("internal: failed to encode response: %v", err)}
		}
		resp.Data = data
	}
	return resp
}

func (s *Server) write(conn net.Conn, resp Response) {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := WriteMessage(conn, resp); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
