// Package audit writes an append-only JSONL trail of mutating module verbs.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tkn-tub/module-simple/internal/auth"
	"github.com/tkn-tub/module-simple/internal/commands"
	"github.com/tkn-tub/module-simple/internal/config"
)

// Outcome values
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeError   = "ERROR"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp time.Time         `json:"ts"`
	RequestID string            `json:"requestId"`
	User      string            `json:"user"`
	Device    string            `json:"device"`
	Action    string            `json:"action"`
	Params    []json.RawMessage `json:"params"`
	Outcome   string            `json:"outcome"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// Logger implements commands.Auditor.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	device string
}

// New creates an audit logger writing to w for the given device address.
func New(w io.Writer, device string) *Logger {
	return &Logger{out: w, device: device}
}

// NewFromConfig creates a rotating audit logger. It returns nil when no
// audit file is configured.
func NewFromConfig(cfg config.AuditConfig, device string) *Logger {
	if cfg.File == "" {
		return nil
	}
	out := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	l := New(out, device)
	l.closer = out
	return l
}

// Record logs an audit record for a command action.
func (l *Logger) Record(ctx context.Context, action string, params []json.RawMessage, err error) {
	if params == nil {
		params = []json.RawMessage{}
	}
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		RequestID: uuid.NewString(),
		User:      userFromContext(ctx),
		Device:    l.device,
		Action:    action,
		Params:    params,
		Outcome:   OutcomeSuccess,
	}
	if err != nil {
		cmdErr := commands.ToCommandError(err)
		entry.Outcome = OutcomeError
		entry.Code = cmdErr.Code
		entry.Message = cmdErr.Message
	}

	l.writeEntry(entry)
}

// writeEntry writes an audit entry as one JSON line.
func (l *Logger) writeEntry(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}
	if _, err := l.out.Write(append(jsonData, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer != nil {
		err := l.closer.Close()
		l.closer = nil
		return err
	}
	return nil
}

// userFromContext returns the token subject, or "anonymous" when auth is off.
func userFromContext(ctx context.Context) string {
	if claims := auth.ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return "anonymous"
}
