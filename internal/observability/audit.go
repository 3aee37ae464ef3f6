package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/mosaic/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit event kinds.
const (
	AuditKindTurn   = "turn"
	AuditKindConfig = "config"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Kind      string                 `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id,omitempty"`
	TurnID    string                 `json:"turn_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AuditLogger appends audit events as JSON lines.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

func newAuditLogger(w io.Writer, c io.Closer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Str("log", "audit").Logger(),
		closer: c,
	}
}

// GetAuditLogger returns the process audit logger, writing to stderr until
// InitAuditLogger or SetAuditWriter replaces it.
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = newAuditLogger(os.Stderr, nil)
	}
	return auditInst
}

// InitAuditLogger appends the audit log to path, creating its directory.
// An empty path keeps the current logger.
func InitAuditLogger(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	swapAuditLogger(newAuditLogger(file, file))
	return nil
}

// SetAuditWriter sends audit events to w.
func SetAuditWriter(w io.Writer) {
	swapAuditLogger(newAuditLogger(w, nil))
}

func swapAuditLogger(next *AuditLogger) {
	auditMu.Lock()
	prev := auditInst
	auditInst = next
	auditMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

// Record fills correlation ids missing from event with those in ctx, adds
// the event to the active span and writes it.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	tc := tracing.FromContext(ctx)
	if event.SessionID == "" {
		event.SessionID = tc.SessionID
	}
	if event.TurnID == "" {
		event.TurnID = tc.TurnID
	}
	if event.RequestID == "" {
		event.RequestID = tc.RequestID
	}
	event.TraceID = tc.TraceID

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+event.Kind, trace.WithAttributes(
			attribute.String("audit.action", event.Action),
			attribute.String("audit.status", event.Status),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("kind", event.Kind).
		Str("action", event.Action).
		Str("status", event.Status).
		Func(func(e *zerolog.Event) {
			for _, f := range []struct{ key, val string }{
				{"session_id", event.SessionID},
				{"turn_id", event.TurnID},
				{"request_id", event.RequestID},
				{"actor", event.Actor},
				{"trace_id", event.TraceID},
			} {
				if f.val != "" {
					e.Str(f.key, f.val)
				}
			}
			if len(event.Details) > 0 {
				e.Interface("details", event.Details)
			}
		}).
		Send()
}

// Close releases the audit log file, if any. Later events are dropped by
// the closed file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// RecordTurnAudit records what happened to a turn: committed, failed or blocked.
func RecordTurnAudit(ctx context.Context, sessionID, action, status string, details map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:      AuditKindTurn,
		SessionID: sessionID,
		Action:    action,
		Status:    status,
		Details:   details,
	})
}

// RecordConfigAudit records a runtime configuration change such as a rules reload.
func RecordConfigAudit(ctx context.Context, action, actor string, details map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:    AuditKindConfig,
		Actor:   actor,
		Action:  action,
		Status:  "applied",
		Details: details,
	})
}
