package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/mosaic/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const DefaultJanitorSchedule = "@every 1m"

// LanePruner drops idle per-session work lanes.
type LanePruner interface {
	PruneIdleLanes(keep func(lane string) bool) int
}

// Janitor periodically publishes the live-session gauge and prunes work
// lanes whose session is gone.
type Janitor struct {
	store    Store
	lanes    LanePruner
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewJanitor creates a janitor. lanes may be nil.
func NewJanitor(store Store, lanes LanePruner, schedule string) *Janitor {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	return &Janitor{
		store:    store,
		lanes:    lanes,
		schedule: schedule,
	}
}

// Start schedules the sweep.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, j.Sweep); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}
	c.Start()

	j.cron = c
	j.running = true

	log.Info().Str("schedule", j.schedule).Msg("Session janitor started")
	return nil
}

// Stop halts scheduling and waits for a running sweep.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return fmt.Errorf("janitor is not running")
	}

	<-j.cron.Stop().Done()
	j.running = false

	log.Info().Msg("Session janitor stopped")
	return nil
}

// Run starts the janitor and stops it when ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if err := j.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return j.Stop()
}

// IsRunning returns whether the janitor is running
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Sweep runs one pass.
func (j *Janitor) Sweep() {
	active := j.store.Len()
	observability.SetActiveSessions(active)

	pruned := 0
	if j.lanes != nil {
		pruned = j.lanes.PruneIdleLanes(j.store.Contains)
	}

	log.Debug().
		Int("active_sessions", active).
		Int("pruned_lanes", pruned).
		Msg("Session janitor sweep")
}
