package conversation

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/mosaic/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// DefaultBuffer is how many events a subscriber may fall behind before
// events are dropped for it.
const DefaultBuffer = 32

// EventTimelineEntry is the only event kind the hub emits.
const EventTimelineEntry = "timeline.entry"

// Event is one message pushed to a subscriber.
type Event struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Entry     Entry  `json:"entry"`
}

// Subscription receives events for one session until cancelled.
type Subscription struct {
	ID        string
	SessionID string

	events chan Event
	once   sync.Once
	// dropped counts events lost because the buffer was full
	dropped atomic.Int64
}

// Events returns the receive channel. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events were lost to a full buffer.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// Hub fans out committed turns to per-session subscribers. Publish never
// blocks on a slow subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	buffer int
	seq    int64
	logger zerolog.Logger
	now    func() time.Time
}

// NewHub creates an empty hub. buffer <= 0 uses DefaultBuffer.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe registers a subscriber for sessionID.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("sub-%d", atomic.AddInt64(&h.seq, 1))
	}
	sub := &Subscription{
		ID:        id,
		SessionID: sessionID,
		events:    make(chan Event, h.buffer),
	}

	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[string]*Subscription)
	}
	h.subs[sessionID][sub.ID] = sub

	h.logger.Debug().
		Str("session_id", sessionID).
		Str("subscriber", sub.ID).
		Int("subscribers", len(h.subs[sessionID])).
		Msg("Timeline subscriber added")

	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	if subs, ok := h.subs[sub.SessionID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.subs, sub.SessionID)
		}
	}
	h.mu.Unlock()

	sub.close()
}

// Count returns the number of subscribers of sessionID.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Publish sends the entries of turn to every subscriber of sessionID.
func (h *Hub) Publish(sessionID string, turn session.Turn) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.subs[sessionID]
	if len(subs) == 0 {
		return
	}

	for _, entry := range Entries(turn) {
		ev := Event{
			Type:      "event",
			Event:     EventTimelineEntry,
			SessionID: sessionID,
			Seq:       atomic.AddInt64(&h.seq, 1),
			Timestamp: h.now().UnixMilli(),
			Entry:     entry,
		}

		// Sends happen under the read lock so Unsubscribe cannot close a
		// channel mid-send.
		for _, sub := range subs {
			select {
			case sub.events <- ev:
			default:
				sub.dropped.Add(1)
				h.logger.Warn().
					Str("session_id", sessionID).
					Str("subscriber", sub.ID).
					Int64("seq", ev.Seq).
					Msg("Subscriber buffer full, dropping event")
			}
		}
	}

	h.logger.Debug().
		Str("session_id", sessionID).
		Str("turn_id", turn.ID).
		Int("subscribers", len(subs)).
		Msg("Turn published")
}
