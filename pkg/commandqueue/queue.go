package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/harun/mosaic/internal/observability"
	"github.com/harun/mosaic/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// TranscribeLane bounds concurrent transcriptions.
	TranscribeLane = "transcribe"

	sessionLanePrefix = "session:"
)

var (
	// ErrClosed is returned for tasks submitted to or pending in a closed queue.
	ErrClosed = errors.New("command queue closed")

	// ErrTaskPanic is returned when a task panics. The lane stays usable.
	ErrTaskPanic = errors.New("task panicked")
)

// SessionLane returns the lane that serializes turns of one session.
func SessionLane(sessionID string) string {
	return sessionLanePrefix + sessionID
}

// LaneKind collapses a lane name into a bounded metric label.
func LaneKind(lane string) string {
	if strings.HasPrefix(lane, sessionLanePrefix) {
		return "session"
	}
	return lane
}

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// WarnAfter logs (and calls OnWait) when the task is still queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	lane       string
	ls         *laneState
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	concurrency int
	pinned      bool
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

func (ls *laneState) idle() bool {
	return ls.running == 0 && len(ls.queue) == 0
}

// CommandQueue runs tasks in named lanes. Tasks in one lane start in FIFO
// order with at most the lane's concurrency running at once; lanes are
// independent of each other.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.Mutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	dedup     *dedupCache
}

// Options configures a CommandQueue.
type Options struct {
	// DedupTTL bounds how long a request id's result is replayed.
	DedupTTL time.Duration
	// DedupSize bounds the number of remembered request ids.
	DedupSize int
	// TranscribeConcurrency bounds the transcribe lane.
	TranscribeConcurrency int
}

// New creates a new CommandQueue with the transcribe lane pinned
func New(opts Options) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	cq := &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		dedup:  newDedupCache(opts.DedupSize, opts.DedupTTL),
	}

	if opts.TranscribeConcurrency <= 0 {
		opts.TranscribeConcurrency = 4
	}

	cq.initLane(TranscribeLane, opts.TranscribeConcurrency, true)

	return cq
}

// initLane initializes a lane with specified concurrency
func (cq *CommandQueue) initLane(lane string, concurrency int, pinned bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	cq.laneLocked(lane, concurrency, pinned)
}

// laneLocked returns the lane, creating it if needed. Caller holds cq.mu.
func (cq *CommandQueue) laneLocked(lane string, concurrency int, pinned bool) *laneState {
	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{
			concurrency: concurrency,
			pinned:      pinned,
			queue:       make([]*taskRecord, 0),
		}
		cq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
	return ls
}

// Enqueue adds a task to the specified lane and waits for its result.
// The task runs with ctx's values; cancelling ctx cancels the running task.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"mosaic.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	// Append under cq.mu so PruneIdleLanes cannot drop the lane in between.
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		tracing.RecordError(span, ErrClosed)
		return nil, ErrClosed
	}
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	ls := cq.laneLocked(lane, 1, false)

	record := &taskRecord{
		id:         taskID,
		lane:       lane,
		ls:         ls,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()
	cq.mu.Unlock()

	logger.Debug().
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(LaneKind(lane), queueSize)

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record)
	}

	go cq.processLane(ls)

	result := <-record.result
	if result.err != nil {
		tracing.RecordError(span, result.err)
	}
	return result.value, result.err
}

// EnqueueOnce is Enqueue with request-id idempotency: a request id whose
// task already succeeded in this lane replays the cached value instead of
// running again. The check happens when the task reaches the head of the
// lane, so duplicates submitted concurrently also run at most once.
// Failed results are not cached.
func (cq *CommandQueue) EnqueueOnce(ctx context.Context, lane, requestID string, task Task, options *TaskOptions) (value interface{}, replayed bool, err error) {
	if requestID == "" {
		value, err = cq.Enqueue(ctx, lane, task, options)
		return value, false, err
	}

	key := lane + "\x00" + requestID
	value, err = cq.Enqueue(ctx, lane, func(ctx context.Context) (interface{}, error) {
		if cached, ok := cq.dedup.Get(key); ok {
			replayed = true
			return cached, nil
		}
		v, err := task(ctx)
		if err == nil {
			cq.dedup.Set(key, v)
		}
		return v, err
	}, options)

	if replayed {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Debug().
			Str("lane", lane).
			Str("request_id", requestID).
			Msg("Replayed cached result")
	}
	return value, replayed, err
}

// processLane starts queued tasks while the lane has capacity
func (cq *CommandQueue) processLane(ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if cq.ctx.Err() != nil {
			record.result <- taskResult{err: ErrClosed}
			continue
		}

		ls.running++

		logger := tracing.LoggerFromContext(record.ctx, log.Logger)
		logger.Debug().
			Str("lane", record.lane).
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(record)
	}
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"mosaic.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", record.lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", record.lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := cq.run(runCtx, record)
	duration := time.Since(startTime)

	ls := record.ls
	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		tracing.RecordError(span, err)
		logger.Error().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(LaneKind(record.lane), duration, err == nil, queueSize)

	go cq.processLane(ls)
}

// run calls the task, converting a panic into ErrTaskPanic.
func (cq *CommandQueue) run(ctx context.Context, record *taskRecord) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("lane", record.lane).
				Str("taskId", record.id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
			value, err = nil, fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return record.task(ctx)
}

// startWarnTimer warns when a task waits in the queue longer than expected
func (cq *CommandQueue) startWarnTimer(record *taskRecord) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := record.ls
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", record.lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-cq.ctx.Done():
		return
	}
}

func (cq *CommandQueue) lane(lane string) (*laneState, bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	ls, ok := cq.lanes[lane]
	return ls, ok
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls, exists := cq.lane(lane)
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	ls, exists := cq.lane(lane)
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// HasLane reports whether the lane currently exists.
func (cq *CommandQueue) HasLane(lane string) bool {
	_, ok := cq.lane(lane)
	return ok
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}

	return stats
}

// PruneIdleLanes drops lanes with nothing queued or running for which keep
// returns false. Built-in lanes are never dropped. keep receives the session
// id for session lanes and the raw name otherwise.
func (cq *CommandQueue) PruneIdleLanes(keep func(lane string) bool) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	pruned := 0
	for name, ls := range cq.lanes {
		if ls.pinned {
			continue
		}
		key := strings.TrimPrefix(name, sessionLanePrefix)
		if keep != nil && keep(key) {
			continue
		}
		ls.mu.Lock()
		idle := ls.idle()
		ls.mu.Unlock()
		if !idle {
			continue
		}
		delete(cq.lanes, name)
		pruned++
	}

	if pruned > 0 {
		log.Debug().Int("pruned", pruned).Int("lanes", len(cq.lanes)).Msg("Idle lanes pruned")
	}
	return pruned
}

// WaitForActive waits for all running tasks to complete with timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		cq.mu.Lock()
		for _, ls := range cq.lanes {
			ls.mu.Lock()
			if ls.running > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		cq.mu.Unlock()

		if allDrained {
			log.Info().Msg("All active tasks completed")
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close rejects queued tasks, cancels running ones and waits for them.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	lanes := make([]*laneState, 0, len(cq.lanes))
	for _, ls := range cq.lanes {
		lanes = append(lanes, ls)
	}
	cq.mu.Unlock()

	cq.cancel()
	for _, ls := range lanes {
		ls.mu.Lock()
		for _, record := range ls.queue {
			record.result <- taskResult{err: ErrClosed}
		}
		ls.queue = nil
		ls.mu.Unlock()
	}

	cq.wg.Wait()
	cq.dedup.Purge()
	return nil
}
