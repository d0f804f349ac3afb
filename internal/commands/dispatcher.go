package commands

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tkn-tub/module-simple/internal/agent"
	"github.com/tkn-tub/module-simple/internal/device"
	"github.com/tkn-tub/module-simple/internal/logging"
	"github.com/tkn-tub/module-simple/internal/monitor"
	"github.com/tkn-tub/module-simple/internal/simulator"
)

// JSON-RPC 2.0 error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
	ID      interface{}       `json:"id"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// MarshalJSON always emits result on success so false and 0 survive
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string      `json:"jsonrpc"`
			Error   *RPCError   `json:"error"`
			ID      interface{} `json:"id"`
		}{r.JSONRPC, r.Error, r.ID})
	}
	return json.Marshal(struct {
		JSONRPC string      `json:"jsonrpc"`
		Result  interface{} `json:"result"`
		ID      interface{} `json:"id"`
	}{r.JSONRPC, r.Result, r.ID})
}

// RPCError is the error member of a JSON-RPC response
type RPCError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *CommandError `json:"data,omitempty"`
}

// NewErrorResponse builds a response carrying a protocol-level error
func NewErrorResponse(code int, message string, id interface{}) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	}
}

// Auditor records mutating commands
type Auditor interface {
	Record(ctx context.Context, action string, params []json.RawMessage, err error)
}

// Dispatcher routes verbs to their handlers through the agent
type Dispatcher struct {
	registry *CommandRegistry
	agent    *agent.Agent
	auditor  Auditor
	logger   logging.Logger
}

// NewModuleRegistry registers every verb of the device module
func NewModuleRegistry(m *device.Module) *CommandRegistry {
	registry := NewCommandRegistry()
	RegisterCoreCommands(registry, m)
	RegisterMonitorCommands(registry, m)
	RegisterTrafficCommands(registry, m)
	return registry
}

// NewDispatcher creates a dispatcher. auditor may be nil.
func NewDispatcher(registry *CommandRegistry, a *agent.Agent, auditor Auditor, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{
		registry: registry,
		agent:    a,
		auditor:  auditor,
		logger:   logger.With(logging.F("component", "dispatcher")),
	}
}

// Registry returns the underlying command registry
func (d *Dispatcher) Registry() *CommandRegistry {
	return d.registry
}

// IsReadOnly reports whether method exists and only reads state
func (d *Dispatcher) IsReadOnly(method string) (readOnly, exists bool) {
	handler, exists := d.registry.Get(method)
	if !exists {
		return false, false
	}
	return handler.IsReadOnly(), true
}

// Execute runs a verb on the agent worker. Errors are always *CommandError.
func (d *Dispatcher) Execute(ctx context.Context, method string, params []json.RawMessage) (interface{}, error) {
	handler, exists := d.registry.Get(method)
	if !exists {
		return nil, &CommandError{Code: ErrNotSupported, Message: "unknown command " + method}
	}

	start := time.Now()
	result, err := d.agent.Invoke(ctx, method, func(ctx context.Context) (interface{}, error) {
		return handler.Handle(ctx, params)
	})

	var cmdErr *CommandError
	if err != nil {
		cmdErr = ToCommandError(err)
		d.logger.Warn("Command failed",
			logging.F("method", method),
			logging.F("code", cmdErr.Code),
			logging.F("error", err))
	}
	if d.auditor != nil && !handler.IsReadOnly() {
		if cmdErr != nil {
			d.auditor.Record(ctx, method, params, cmdErr)
		} else {
			d.auditor.Record(ctx, method, params, nil)
		}
	}

	d.logger.Debug("Command processed",
		logging.F("method", method),
		logging.F("duration", time.Since(start).String()))

	if cmdErr != nil {
		return nil, cmdErr
	}
	return result, nil
}

// HandleRPC processes a decoded JSON-RPC request
func (d *Dispatcher) HandleRPC(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(CodeInvalidRequest, "Invalid Request", req.ID)
	}
	if _, exists := d.registry.Get(req.Method); !exists {
		return NewErrorResponse(CodeMethodNotFound, "Method not found", req.ID)
	}

	result, err := d.Execute(ctx, req.Method, req.Params)
	if err != nil {
		cmdErr := ToCommandError(err)
		return &Response{
			JSONRPC: "2.0",
			Error: &RPCError{
				Code:    rpcCode(cmdErr.Code),
				Message: cmdErr.Code,
				Data:    cmdErr,
			},
			ID: req.ID,
		}
	}

	return &Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}
}

// ToCommandError maps module, agent and simulator errors to command codes
func ToCommandError(err error) *CommandError {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr
	}

	var fe *device.FunctionExecutionFailedError
	switch {
	case errors.As(err, &fe):
		return &CommandError{Code: ErrFunctionExecutionFailed, Message: fe.Message, Details: fe.FuncName}
	case errors.Is(err, simulator.ErrInvalidScenario):
		return &CommandError{Code: ErrInvalidRange, Message: err.Error()}
	case errors.Is(err, agent.ErrBusy):
		return &CommandError{Code: ErrBusy, Message: err.Error()}
	case errors.Is(err, agent.ErrUnavailable),
		errors.Is(err, monitor.ErrSamplerStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return &CommandError{Code: ErrUnavailable, Message: err.Error()}
	default:
		return &CommandError{Code: ErrInternal, Message: err.Error()}
	}
}

func rpcCode(code string) int {
	switch code {
	case ErrInvalidParams, ErrInvalidRange:
		return CodeInvalidParams
	case ErrInternal:
		return CodeInternalError
	default:
		return CodeServerError
	}
}
