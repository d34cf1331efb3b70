package gc

import (
	"context"
	"testing"
	"time"
)

func sliceIterator(addrs []int64) Iterator {
	i := 0
	return func() (int64, bool) {
		if i >= len(addrs) {
			return 0, false
		}
		addr := addrs[i]
		i++
		return addr, true
	}
}

func TestFetchExpiredLoggablesReclaimsInBackground(t *testing.T) {
	w := NewWorker(context.Background(), nil)
	defer w.Finish()

	w.FetchExpiredLoggables(context.Background(), sliceIterator([]int64{1, 2, 3}))
	if err := w.SaveUtilizationProfile(); err != nil {
		t.Fatalf("SaveUtilizationProfile: %v", err)
	}
	// The reclaim goroutine may still be draining the queue; poll the counter
	// until it reaches 3 or the deadline passes.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		n := w.reclaimed
		w.mu.Unlock()
		if n == 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker did not reclaim the queued batch in time")
}

func TestSuspendPreventsReclamation(t *testing.T) {
	w := NewWorker(context.Background(), nil)
	defer w.Finish()

	w.Suspend()
	w.FetchExpiredLoggables(context.Background(), sliceIterator([]int64{1, 2}))
	time.Sleep(50 * time.Millisecond)
	w.mu.Lock()
	n := w.reclaimed
	w.mu.Unlock()
	if n != 0 {
		t.Fatalf("a suspended worker must not reclaim, got %d", n)
	}
	w.Resume()
}

func TestFinishIsIdempotent(t *testing.T) {
	w := NewWorker(context.Background(), nil)
	w.Finish()
	w.Finish() // must not panic on a double close
}

func TestIsUtilizationProfileRecognizesReservedPrefix(t *testing.T) {
	w := NewWorker(context.Background(), nil)
	defer w.Finish()
	if !w.IsUtilizationProfile(utilizationProfilePrefix + "reclaimed") {
		t.Fatalf("reserved-prefix store name must be recognized")
	}
	if w.IsUtilizationProfile("ordinary-store") {
		t.Fatalf("an ordinary store name must not be recognized as a utilization profile")
	}
}

func TestNoopGCSatisfiesInterface(t *testing.T) {
	var g GC = NoopGC{}
	g.Suspend()
	g.Resume()
	g.Wake()
	g.FetchExpiredLoggables(context.Background(), sliceIterator(nil))
	if err := g.SaveUtilizationProfile(); err != nil {
		t.Fatalf("NoopGC.SaveUtilizationProfile must never fail, got %v", err)
	}
	if g.IsUtilizationProfile("anything") {
		t.Fatalf("NoopGC never reserves any store name")
	}
	g.Finish()
}
