// Package controller accepts persistent TCP links from the global controller.
// Each line on a link is one JSON-RPC request and gets one response line.
package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/tkn-tub/module-simple/internal/commands"
	"github.com/tkn-tub/module-simple/internal/config"
	"github.com/tkn-tub/module-simple/internal/logging"
)

// LinkObserver is told when the first link opens and the last one closes.
type LinkObserver interface {
	Connected()
	Disconnected()
}

// Server handles controller TCP connections
type Server struct {
	config     config.ControllerConfig
	dispatcher *commands.Dispatcher
	observer   LinkObserver
	logger     logging.Logger

	allowed []*net.IPNet

	// hookMu orders observer calls with the link-set changes that caused them
	hookMu sync.Mutex

	mu       sync.Mutex
	listener net.Listener
	links    map[string]net.Conn
	stopChan chan struct{}
	wg       sync.WaitGroup

	// ctx is cancelled on Close so in-flight commands stop waiting
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new controller server. observer may be nil.
func NewServer(cfg config.ControllerConfig, dispatcher *commands.Dispatcher, observer LinkObserver, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	allowed := make([]*net.IPNet, 0, len(cfg.AllowedCIDRs))
	for _, cidrStr := range cfg.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", cidrStr, err)
		}
		allowed = append(allowed, network)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:        ctx,
		cancel:     cancel,
		config:     cfg,
		dispatcher: dispatcher,
		observer:   observer,
		logger:     logger.With(logging.F("component", "controller")),
		allowed:    allowed,
		links:      make(map[string]net.Conn),
		stopChan:   make(chan struct{}),
	}, nil
}

// ListenAndServe starts the controller TCP server
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	return s.Serve(listener)
}

// Serve accepts links on listener until Close is called
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.stopChan:
		s.mu.Unlock()
		listener.Close()
		return nil
	default:
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Controller server listening", logging.F("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("Failed to accept connection", logging.F("error", err))
			continue
		}

		if !s.isAllowedConnection(conn) {
			s.logger.Warn("Rejected connection (not in allowed CIDRs)", logging.F("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		id, ok := s.addLink(conn)
		if !ok {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(id, conn)
	}
}

// LinkCount returns the number of open links
func (s *Server) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *Server) addLink(conn net.Conn) (string, bool) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	s.mu.Lock()
	select {
	case <-s.stopChan:
		s.mu.Unlock()
		return "", false
	default:
	}
	id := uuid.NewString()
	s.links[id] = conn
	first := len(s.links) == 1
	s.mu.Unlock()

	s.logger.Info("Controller link opened", logging.F("link", id), logging.F("remote", conn.RemoteAddr().String()))
	if first && s.observer != nil {
		s.observer.Connected()
	}
	return id, true
}

func (s *Server) removeLink(id string) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	s.mu.Lock()
	delete(s.links, id)
	last := len(s.links) == 0
	s.mu.Unlock()

	s.logger.Info("Controller link closed", logging.F("link", id))
	if last && s.observer != nil {
		s.observer.Disconnected()
	}
}

// handleConnection serves requests on one link until it closes
func (s *Server) handleConnection(id string, conn net.Conn) {
	defer s.wg.Done()
	defer s.removeLink(id)
	defer conn.Close()

	decoder := json.NewDecoder(bufio.NewReader(conn))
	encoder := json.NewEncoder(conn)

	for {
		var req commands.Request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.logger.Warn("Failed to decode JSON-RPC request", logging.F("link", id), logging.F("error", err))
				encoder.Encode(commands.NewErrorResponse(commands.CodeParseError, "Parse error", nil))
			}
			return
		}

		resp := s.dispatcher.HandleRPC(s.ctx, &req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Warn("Failed to encode response", logging.F("link", id), logging.F("error", err))
			return
		}
		s.logger.Debug("Controller command processed", logging.F("method", req.Method), logging.F("link", id))
	}
}

// isAllowedConnection checks if the connection is from an allowed CIDR
func (s *Server) isAllowedConnection(conn net.Conn) bool {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	clientIP := net.ParseIP(host)
	if clientIP == nil {
		return false
	}
	for _, network := range s.allowed {
		if network.Contains(clientIP) {
			return true
		}
	}
	return false
}

// Close stops accepting, closes every link and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.stopChan:
		s.mu.Unlock()
		return nil
	default:
		close(s.stopChan)
	}
	s.cancel()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, conn := range s.links {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
