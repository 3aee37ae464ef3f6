package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds the non-empty tracing fields of ctx to logger.
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	if *tc == (TraceContext{}) {
		return logger
	}

	lc := logger.With()
	for _, f := range []struct{ key, val string }{
		{"trace_id", tc.TraceID},
		{"turn_id", tc.TurnID},
		{"session_id", tc.SessionID},
		{"request_id", tc.RequestID},
	} {
		if f.val != "" {
			lc = lc.Str(f.key, f.val)
		}
	}
	return lc.Logger()
}

// LoggerFromContext is PropagateToLogger with the arguments most call sites have.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, base)
}
