package commands

import (
	"context"
	"encoding/json"
	"sort"
)

// CommandHandler defines the interface for command handlers
type CommandHandler interface {
	// Handle processes a command and returns the response
	Handle(ctx context.Context, params []json.RawMessage) (interface{}, error)

	// GetName returns the command name
	GetName() string

	// GetDescription returns a human-readable description
	GetDescription() string

	// IsReadOnly returns true if the command only reads data
	IsReadOnly() bool
}

// CommandRegistry manages available commands
type CommandRegistry struct {
	handlers map[string]CommandHandler
}

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		handlers: make(map[string]CommandHandler),
	}
}

// Register adds a command handler to the registry
func (r *CommandRegistry) Register(handler CommandHandler) {
	r.handlers[handler.GetName()] = handler
}

// Get returns a command handler by name
func (r *CommandRegistry) Get(name string) (CommandHandler, bool) {
	handler, exists := r.handlers[name]
	return handler, exists
}

// List returns all registered command names, sorted
func (r *CommandRegistry) List() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CommandInfo provides information about a command
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ReadOnly    bool   `json:"read_only"`
}

// Describe returns information about every registered command
func (r *CommandRegistry) Describe() []CommandInfo {
	infos := make([]CommandInfo, 0, len(r.handlers))
	for _, name := range r.List() {
		h := r.handlers[name]
		infos = append(infos, CommandInfo{
			Name:        h.GetName(),
			Description: h.GetDescription(),
			ReadOnly:    h.IsReadOnly(),
		})
	}
	return infos
}

// CommandError represents a command-specific error
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *CommandError) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidRange            = "INVALID_RANGE"
	ErrBusy                    = "BUSY"
	ErrUnavailable             = "UNAVAILABLE"
	ErrInternal                = "INTERNAL"
	ErrNotSupported            = "NOT_SUPPORTED"
	ErrInvalidParams           = "INVALID_PARAMS"
	ErrFunctionExecutionFailed = "FUNCTION_EXECUTION_FAILED"
	ErrUnauthorized            = "UNAUTHORIZED"
	ErrForbidden               = "FORBIDDEN"
)

// funcHandler adapts a plain function to CommandHandler
type funcHandler struct {
	name        string
	description string
	readOnly    bool
	handlerFunc func(ctx context.Context, params []json.RawMessage) (interface{}, error)
}

// NewFuncHandler creates a command handler backed by handlerFunc
func NewFuncHandler(name, description string, readOnly bool, handlerFunc func(ctx context.Context, params []json.RawMessage) (interface{}, error)) CommandHandler {
	return &funcHandler{
		name:        name,
		description: description,
		readOnly:    readOnly,
		handlerFunc: handlerFunc,
	}
}

func (h *funcHandler) Handle(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	return h.handlerFunc(ctx, params)
}

func (h *funcHandler) GetName() string {
	return h.name
}

func (h *funcHandler) GetDescription() string {
	return h.description
}

func (h *funcHandler) IsReadOnly() bool {
	return h.readOnly
}
