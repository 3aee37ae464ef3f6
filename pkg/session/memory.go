package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/mosaic/internal/observability"
	"github.com/harun/mosaic/internal/tracing"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultIdleTTL = 24 * time.Hour

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	// MaxSessions caps live sessions, evicting the least recently used.
	// Zero leaves the store unbounded so only the idle TTL evicts.
	MaxSessions int
	IdleTTL     time.Duration
	Now         func() time.Time
}

// MemoryStore is an in-process Store. Sessions idle longer than the TTL are
// evicted. A session enters the store on its first Save, so a conversation
// whose first turn fails leaves nothing behind.
type MemoryStore struct {
	cache *lru.LRU[string, *Session]
	now   func() time.Time

	mu      sync.RWMutex
	onEvict []func(id string)
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	observability.EnsureRegistered()

	if opts.MaxSessions < 0 {
		opts.MaxSessions = 0
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &MemoryStore{now: opts.Now}
	s.cache = lru.NewLRU[string, *Session](opts.MaxSessions, s.evicted, opts.IdleTTL)

	log.Info().
		Int("max_sessions", opts.MaxSessions).
		Dur("idle_ttl", opts.IdleTTL).
		Msg("Session store initialized")

	return s
}

// OnEvict registers fn to run when a session leaves the store.
func (s *MemoryStore) OnEvict(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = append(s.onEvict, fn)
}

func (s *MemoryStore) evicted(id string, _ *Session) {
	observability.RecordSessionEvicted()
	log.Debug().Str("session_id", id).Msg("Session evicted")

	s.mu.RLock()
	hooks := append([]func(string){}, s.onEvict...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}
}

// GetOrCreate returns a copy of the session, or a fresh one when the id is
// unknown. The fresh session is not stored until it is saved.
func (s *MemoryStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	_, span := tracing.StartSpan(ctx, "mosaic.session", "session.get_or_create",
		attribute.String("session_id", id),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := ValidateID(id); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	if id == "" {
		minted, err := uuid.NewV7()
		if err != nil {
			err = fmt.Errorf("failed to mint session id: %w", err)
			tracing.RecordError(span, err)
			return nil, err
		}
		id = minted.String()
		span.SetAttributes(attribute.String("session_id", id))
	}

	if existing, ok := s.cache.Get(id); ok {
		return existing.Clone(), nil
	}
	return New(id, s.now().UTC()), nil
}

// Get returns a copy of an existing session.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	_, span := tracing.StartSpan(ctx, "mosaic.session", "session.get",
		attribute.String("session_id", id),
	)
	defer span.End()

	if err := ValidateID(id); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if id == "" {
		return nil, ErrNotFound
	}

	existing, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return existing.Clone(), nil
}

// Save commits a copy of sess and refreshes its idle timer. The first Save
// of an id creates the session.
func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	ctx, span := tracing.StartSpan(ctx, "mosaic.session", "session.save")
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if sess == nil {
		err := fmt.Errorf("cannot save nil session")
		tracing.RecordError(span, err)
		return err
	}
	span.SetAttributes(
		attribute.String("session_id", sess.ID),
		attribute.Int("turns", len(sess.History)),
	)
	if sess.ID == "" {
		err := fmt.Errorf("%w: empty id", ErrInvalidSessionID)
		tracing.RecordError(span, err)
		return err
	}
	if err := ValidateID(sess.ID); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	created := !s.cache.Contains(sess.ID)
	s.cache.Add(sess.ID, sess.Clone())

	if created {
		observability.SetActiveSessions(s.cache.Len())
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Debug().
			Str("session_id", sess.ID).
			Msg("Session created")
	}
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Contains reports whether id is live.
func (s *MemoryStore) Contains(id string) bool {
	return s.cache.Contains(id)
}

// Purge drops every session.
func (s *MemoryStore) Purge() {
	s.cache.Purge()
	observability.SetActiveSessions(0)
}

var _ Store = (*MemoryStore)(nil)
