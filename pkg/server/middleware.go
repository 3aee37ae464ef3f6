package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harun/mosaic/internal/observability"
	"github.com/harun/mosaic/internal/tracing"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// requestContext starts a trace context per request and echoes its id.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := tracing.NewRequestContext(c.Request.Context())
		if id := c.GetHeader(requestIDHeader); id != "" {
			ctx = tracing.WithTraceID(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, tracing.GetTraceID(ctx))
		c.Next()
	}
}

// accessLog logs every request and counts it by route and status.
func accessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		observability.RecordHTTPRequest(route, status)

		l := tracing.PropagateToLogger(c.Request.Context(), logger)
		event := l.Debug()
		if status >= http.StatusInternalServerError {
			event = l.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

// recovery turns a handler panic into a 500.
func recovery(logger zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error().
			Interface("panic", recovered).
			Bytes("stack", debug.Stack()).
			Str("path", c.Request.URL.Path).
			Msg("Panic recovered in handler")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	})
}
