package orchestrator

import (
	"errors"
	"fmt"

	"github.com/harun/mosaic/pkg/session"
)

// ErrEmptyMessage is returned for blank input before any session work.
var ErrEmptyMessage = errors.New("empty message")

// TurnErrorKind classifies a failed turn.
type TurnErrorKind string

const (
	// KindAdapter means a capability call failed; the session is unchanged.
	KindAdapter TurnErrorKind = "adapter"
	// KindInternal means the turn could not be committed or panicked.
	KindInternal TurnErrorKind = "internal"
)

// TurnError reports a turn that ran but did not commit.
type TurnError struct {
	Kind      TurnErrorKind
	SessionID string
	Intent    session.Intent
	Action    session.Action
	Err       error
}

func (e *TurnError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("turn failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("turn failed (%s %s/%s): %v", e.Kind, e.Intent, e.Action, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
