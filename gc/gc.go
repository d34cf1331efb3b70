// Package gc implements the GC the environment core treats as an external
// collaborator: a background worker that reclaims log addresses superseded
// by commits, tracked with an errgroup-based worker pool in the same style
// as the teacher's job-queue helpers.
package gc

import (
	"context"
	"strings"
	"sync"

	log "log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/leventov/xodus/xcache"
)

// Iterator is a flat lazy sequence of expired log addresses, as produced by
// a tree commit.
type Iterator func() (int64, bool)

// GC is the contract the environment core depends on.
type GC interface {
	Suspend()
	Resume()
	Wake()
	Finish()
	FetchExpiredLoggables(ctx context.Context, iter Iterator)
	SaveUtilizationProfile() error
	IsUtilizationProfile(storeName string) bool
}

// utilizationProfilePrefix marks store names reserved for the GC's own
// bookkeeping, mirroring the reserved-name convention the source uses to
// keep its utilization profile out of the ordinary store namespace.
const utilizationProfilePrefix = "##gc.up##"

// Worker is an errgroup-backed GC. Expired-loggable batches are queued and
// drained by a single background goroutine so reclamation never blocks a
// commit; Suspend/Resume gate that goroutine cooperatively for Clear.
type Worker struct {
	eg     *errgroup.Group
	cancel context.CancelFunc
	jobs   chan Iterator
	wake   chan struct{}

	mu        sync.Mutex
	suspended bool
	reclaimed int64

	profile    xcache.Cache[string, []byte]
	finishOnce sync.Once
}

// NewWorker starts a GC worker backed by an errgroup, deriving its lifetime
// from parent. profile backs the utilization profile cache; pass nil to use
// an in-process default.
func NewWorker(parent context.Context, profile xcache.Cache[string, []byte]) *Worker {
	if profile == nil {
		profile = xcache.NewMemoryCache[string, []byte](16, 256)
	}
	ctx, cancel := context.WithCancel(parent)
	eg, ctx2 := errgroup.WithContext(ctx)
	w := &Worker{
		eg:      eg,
		cancel:  cancel,
		jobs:    make(chan Iterator, 64),
		wake:    make(chan struct{}, 1),
		profile: profile,
	}
	eg.Go(func() error { return w.loop(ctx2) })
	return w
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case it, ok := <-w.jobs:
			if !ok {
				return nil
			}
			w.reclaim(it)
		case <-w.wake:
		}
	}
}

func (w *Worker) reclaim(it Iterator) {
	w.mu.Lock()
	suspended := w.suspended
	w.mu.Unlock()
	if suspended {
		return
	}
	n := 0
	for {
		_, ok := it()
		if !ok {
			break
		}
		n++
	}
	w.mu.Lock()
	w.reclaimed += int64(n)
	w.mu.Unlock()
	log.Debug("gc: reclaimed expired loggables", "count", n)
}

// FetchExpiredLoggables enqueues iter for background reclamation. If the
// worker's queue is full it blocks until ctx is done or a slot frees up.
func (w *Worker) FetchExpiredLoggables(ctx context.Context, iter Iterator) {
	select {
	case w.jobs <- iter:
	case <-ctx.Done():
		log.Warn("gc: dropped expired loggables, context done before enqueue")
	}
}

func (w *Worker) Suspend() {
	w.mu.Lock()
	w.suspended = true
	w.mu.Unlock()
}

func (w *Worker) Resume() {
	w.mu.Lock()
	w.suspended = false
	w.mu.Unlock()
	w.Wake()
}

func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Finish stops the worker and waits for the in-flight batch to drain. It is
// safe to call more than once; only the first call has any effect.
func (w *Worker) Finish() {
	w.finishOnce.Do(func() {
		w.cancel()
		close(w.jobs)
		if err := w.eg.Wait(); err != nil {
			log.Warn("gc: worker exited with error", "err", err)
		}
	})
}

// NoopGC discards every expired batch immediately and spawns no background
// goroutine, for environments configured with gc.enabled=false.
type NoopGC struct{}

func (NoopGC) Suspend() {}
func (NoopGC) Resume()  {}
func (NoopGC) Wake()    {}
func (NoopGC) Finish()  {}
func (NoopGC) FetchExpiredLoggables(ctx context.Context, iter Iterator) {}
func (NoopGC) SaveUtilizationProfile() error                            { return nil }
func (NoopGC) IsUtilizationProfile(storeName string) bool               { return false }

// SaveUtilizationProfile persists the current in-memory reclamation counters
// under the reserved utilization-profile store name.
func (w *Worker) SaveUtilizationProfile() error {
	w.mu.Lock()
	n := w.reclaimed
	w.mu.Unlock()
	buf := []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	w.profile.Set([]xcache.Pair[string, []byte]{{Key: utilizationProfilePrefix + "reclaimed", Value: buf}})
	return nil
}

// IsUtilizationProfile reports whether storeName is reserved for the GC's
// own bookkeeping and must never be opened as an ordinary user store.
func (w *Worker) IsUtilizationProfile(storeName string) bool {
	return strings.HasPrefix(storeName, utilizationProfilePrefix)
}
