package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/moderation"
	"github.com/harun/mosaic/pkg/orchestrator"
	"github.com/harun/mosaic/pkg/session"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps an error onto an HTTP status. Turn errors are checked
// first: a blocked reply is an engine failure, not bad input.
func statusFor(err error) (int, string) {
	var te *orchestrator.TurnError
	if errors.As(err, &te) {
		if te.Kind != orchestrator.KindAdapter {
			return http.StatusInternalServerError, string(te.Kind)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, string(te.Kind)
		}
		return http.StatusBadGateway, string(te.Kind)
	}

	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage),
		errors.Is(err, session.ErrInvalidSessionID),
		errors.Is(err, moderation.ErrBlocked):
		return http.StatusBadRequest, "input"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, capability.ErrUnavailable):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, "adapter"
		}
		return http.StatusBadGateway, "adapter"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
