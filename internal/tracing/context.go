package tracing

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// TraceContext is the correlation data carried through a turn: the request
// trace, the turn being processed, its session and the caller's idempotency key.
type TraceContext struct {
	TraceID   string
	TurnID    string
	SessionID string
	RequestID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.NewString()
}

// FromContext returns a copy of the tracing data in ctx; fields are empty when unset.
func FromContext(ctx context.Context) *TraceContext {
	if tc, ok := ctx.Value(contextKey{}).(TraceContext); ok {
		return &tc
	}
	return &TraceContext{}
}

// NewContext stores tc in ctx, keeping any field of ctx that tc leaves empty.
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	merged := *FromContext(ctx)
	if tc.TraceID != "" {
		merged.TraceID = tc.TraceID
	}
	if tc.TurnID != "" {
		merged.TurnID = tc.TurnID
	}
	if tc.SessionID != "" {
		merged.SessionID = tc.SessionID
	}
	if tc.RequestID != "" {
		merged.RequestID = tc.RequestID
	}
	return context.WithValue(ctx, contextKey{}, merged)
}

func update(ctx context.Context, fn func(*TraceContext)) context.Context {
	tc := *FromContext(ctx)
	fn(&tc)
	return context.WithValue(ctx, contextKey{}, tc)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.TraceID = traceID })
}

func WithTurnID(ctx context.Context, turnID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.TurnID = turnID })
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.SessionID = sessionID })
}

// WithRequestID records the caller-supplied idempotency key.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.RequestID = requestID })
}

func GetTraceID(ctx context.Context) string   { return FromContext(ctx).TraceID }
func GetTurnID(ctx context.Context) string    { return FromContext(ctx).TurnID }
func GetSessionID(ctx context.Context) string { return FromContext(ctx).SessionID }
func GetRequestID(ctx context.Context) string { return FromContext(ctx).RequestID }

// NewRequestContext starts a fresh trace for an inbound request.
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// Detach returns a background context carrying the same tracing information.
// A queued turn runs on it so a client that goes away does not abort the
// turn halfway through its adapter call.
func Detach(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	return context.WithValue(context.Background(), contextKey{}, *tc)
}
