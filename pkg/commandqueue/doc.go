// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane start in FIFO submission order.
// - A lane runs at most its concurrency of tasks at once (1 for session lanes).
// - Tasks in different lanes may execute concurrently.
// - A lane is released on every exit path, including a panicking task.
// - Queue activity is observable through metrics labelled by lane kind.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Options{})
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, commandqueue.SessionLane("abc"), func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
