// Package jsonrpc serves the module verbs as JSON-RPC 2.0 over HTTP, next to
// the SSE event stream and a health probe.
package jsonrpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tkn-tub/module-simple/internal/auth"
	"github.com/tkn-tub/module-simple/internal/commands"
	"github.com/tkn-tub/module-simple/internal/logging"
)

// Endpoint paths
const (
	PathModuleAPI = "/module_api"
	PathEvents    = "/events"
	PathHealth    = "/health"
)

// Server handles JSON-RPC HTTP requests
type Server struct {
	dispatcher *commands.Dispatcher
	events     http.Handler
	auth       *auth.Middleware
	logger     logging.Logger
	started    time.Time
}

// NewServer creates a new JSON-RPC server. events serves /events and may be
// nil. authMW may be nil to disable bearer auth.
func NewServer(dispatcher *commands.Dispatcher, events http.Handler, authMW *auth.Middleware, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		dispatcher: dispatcher,
		events:     events,
		auth:       authMW,
		logger:     logger.With(logging.F("component", "jsonrpc")),
		started:    time.Now(),
	}
}

// Handler returns the mux with every endpoint registered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathModuleAPI, s.HandleRequest)
	mux.HandleFunc(PathHealth, s.handleHealth)
	if s.events != nil {
		mux.HandleFunc(PathEvents, s.auth.RequireAuth(s.events.ServeHTTP))
	}
	return mux
}

// HandleRequest handles HTTP POST requests to /module_api
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeResponse(w, http.StatusMethodNotAllowed,
			commands.NewErrorResponse(commands.CodeInvalidRequest, "Invalid Request", nil))
		return
	}

	var req commands.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, http.StatusBadRequest,
			commands.NewErrorResponse(commands.CodeParseError, "Parse error", nil))
		return
	}

	ctx := r.Context()
	if s.auth.Enabled() {
		claims, err := s.auth.Authenticate(r)
		if err != nil {
			s.writeResponse(w, http.StatusUnauthorized, authError(commands.ErrUnauthorized, "Authentication required", req.ID))
			return
		}
		if readOnly, exists := s.dispatcher.IsReadOnly(req.Method); exists {
			allowed := auth.CanControl(claims) || (readOnly && auth.CanRead(claims))
			if !allowed {
				s.writeResponse(w, http.StatusForbidden, authError(commands.ErrForbidden, "Insufficient permissions", req.ID))
				return
			}
		}
		ctx = auth.WithClaims(ctx, claims)
	}

	resp := s.dispatcher.HandleRPC(ctx, &req)
	s.writeResponse(w, http.StatusOK, resp)

	s.logger.Debug("JSON-RPC request processed",
		logging.F("method", req.Method),
		logging.F("duration", time.Since(start).String()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
	})
}

// writeResponse writes a JSON-RPC response with the given HTTP status
func (s *Server) writeResponse(w http.ResponseWriter, status int, resp *commands.Response) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to encode response", logging.F("error", err))
	}
}

func authError(code, message string, id interface{}) *commands.Response {
	return &commands.Response{
		JSONRPC: "2.0",
		Error: &commands.RPCError{
			Code:    commands.CodeServerError,
			Message: code,
			Data:    &commands.CommandError{Code: code, Message: message},
		},
		ID: id,
	}
}
