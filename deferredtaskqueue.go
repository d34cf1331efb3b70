package xodus

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// deferredTask pairs a callback with the newest MetaTree root that existed
// when it was registered. It runs only once no live transaction could still
// observe the state that existed before it.
type deferredTask struct {
	fn                 func(ctx context.Context) error
	rootAtRegistration int64
}

// DeferredTaskQueue is a FIFO of tasks gated on the oldest live transaction's
// snapshot root. Dispatched tasks run on a shared errgroup-backed IO worker
// so registration and sweeping never block on the task body itself.
type DeferredTaskQueue struct {
	mu    sync.Mutex
	tasks []deferredTask

	io *errgroup.Group
}

// NewDeferredTaskQueue returns an empty queue. Dispatched tasks receive the
// ctx passed to Sweep or DrainAll; the worker group's own derived context is
// not used.
func NewDeferredTaskQueue(ctx context.Context) *DeferredTaskQueue {
	eg, _ := errgroup.WithContext(ctx)
	return &DeferredTaskQueue{io: eg}
}

// Register appends fn to the queue, gated on rootAtRegistration.
func (q *DeferredTaskQueue) Register(fn func(ctx context.Context) error, rootAtRegistration int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, deferredTask{fn: fn, rootAtRegistration: rootAtRegistration})
}

// Sweep pops and dispatches every task at the front of the queue whose
// registration root is strictly older than oldestLiveRoot. When hasLive is
// false (no transaction is currently live) every remaining task runs.
func (q *DeferredTaskQueue) Sweep(ctx context.Context, oldestLiveRoot int64, hasLive bool) {
	q.mu.Lock()
	var ready []deferredTask
	i := 0
	for ; i < len(q.tasks); i++ {
		if hasLive && q.tasks[i].rootAtRegistration >= oldestLiveRoot {
			break
		}
		ready = append(ready, q.tasks[i])
	}
	q.tasks = q.tasks[i:]
	q.mu.Unlock()

	for _, t := range ready {
		t := t
		q.io.Go(func() error {
			if err := t.fn(ctx); err != nil {
				log.Warn("deferred task failed", "err", err)
			}
			return nil
		})
	}
}

// DrainAll runs every remaining task unconditionally (used by Close, where
// no new reader can appear), then waits up to ioWait for the shared IO
// worker to finish in-flight dispatches.
func (q *DeferredTaskQueue) DrainAll(ctx context.Context, ioWait time.Duration) error {
	q.Sweep(ctx, 0, false)

	done := make(chan error, 1)
	go func() { done <- q.io.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(ioWait):
		return errors.New("xodus: deferred task queue IO drain timed out")
	}
}
