package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrInvalidSessionID is returned for ids that are too long or not path-safe.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrNotFound is returned by Get for unknown sessions.
	ErrNotFound = errors.New("session not found")
)

const maxIDLength = 128

// Store keeps sessions for the lifetime of the process.
type Store interface {
	// GetOrCreate returns a copy of the session, or a fresh unsaved one when
	// the id is unknown. An empty id mints a new one.
	GetOrCreate(ctx context.Context, id string) (*Session, error)

	// Get returns a copy of an existing session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Save commits a copy of s, creating the session on first save.
	Save(ctx context.Context, s *Session) error

	// Len returns the number of live sessions.
	Len() int

	// Contains reports whether id is live.
	Contains(id string) bool
}

// ValidateID checks a caller-supplied session id.
func ValidateID(id string) error {
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSessionID, maxIDLength)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidSessionID)
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidSessionID)
	}
	for _, r := range id {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("%w: cannot contain control characters", ErrInvalidSessionID)
		}
	}
	return nil
}
