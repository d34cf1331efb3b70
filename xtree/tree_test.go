package xtree

import (
	"context"
	"testing"

	"github.com/leventov/xodus/txlog"
)

func TestPutGetCommitRoundTrip(t *testing.T) {
	log := txlog.NewMemLog()
	ctx := context.Background()

	base := Open(log, NoRoot, 4)
	mut := base.NewMutable()
	mut.Put([]byte("b"), []byte("2"))
	mut.Put([]byte("a"), []byte("1"))
	mut.Put([]byte("c"), []byte("3"))

	newRoot, expired, err := mut.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Nothing existed under NoRoot, so nothing should be reported expired.
	if _, ok := expired(); ok {
		t.Fatalf("committing a brand-new tree must not report expired addresses")
	}

	snap := Open(log, newRoot, 4)
	for k, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		v, ok, err := snap.Get(ctx, []byte(k))
		if err != nil || !ok || string(v) != want {
			t.Fatalf("Get(%q): got (%q,%v,%v)", k, v, ok, err)
		}
	}
	if _, ok, err := snap.Get(ctx, []byte("z")); err != nil || ok {
		t.Fatalf("Get of a missing key must report ok=false")
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	log := txlog.NewMemLog()
	ctx := context.Background()

	base := Open(log, NoRoot, 4)
	mut := base.NewMutable()
	mut.Put([]byte("a"), []byte("1"))
	root1, _, err := mut.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap := Open(log, root1, 4)
	mut2 := snap.NewMutable()
	mut2.Delete([]byte("a"))
	root2, expired, err := mut2.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	count := 0
	for {
		if _, ok := expired(); !ok {
			break
		}
		count++
	}
	if count == 0 {
		t.Fatalf("deleting from an existing tree must report the superseded node as expired")
	}

	final := Open(log, root2, 4)
	if _, ok, err := final.Get(ctx, []byte("a")); err != nil || ok {
		t.Fatalf("deleted key must not be found, got ok=%v err=%v", ok, err)
	}
}

func TestBaseSnapshotUnaffectedByMutableOverlay(t *testing.T) {
	log := txlog.NewMemLog()
	ctx := context.Background()

	base := Open(log, NoRoot, 4)
	baseMut := base.NewMutable()
	baseMut.Put([]byte("a"), []byte("1"))
	root1, _, err := baseMut.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap := Open(log, root1, 4)
	mut := snap.NewMutable()
	mut.Put([]byte("b"), []byte("2"))

	// The base snapshot must not observe the mutable overlay's pending write.
	if _, ok, err := snap.Get(ctx, []byte("b")); err != nil || ok {
		t.Fatalf("uncommitted write must not be visible on the base snapshot")
	}
	if v, ok, err := mut.Get(ctx, []byte("b")); err != nil || !ok || string(v) != "2" {
		t.Fatalf("mutable overlay must see its own pending write")
	}
}

func TestValueAboveInlineThresholdIsStoredAsBlobAndReadBack(t *testing.T) {
	log := txlog.NewMemLog()
	ctx := context.Background()

	big := make([]byte, InlineValueThreshold+1)
	for i := range big {
		big[i] = byte(i)
	}

	base := Open(log, NoRoot, 4)
	mut := base.NewMutable()
	mut.Put([]byte("big"), big)
	root, _, err := mut.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap := Open(log, root, 4)
	got, ok, err := snap.Get(ctx, []byte("big"))
	if err != nil || !ok {
		t.Fatalf("Get(big): ok=%v err=%v", ok, err)
	}
	if len(got) != len(big) || string(got) != string(big) {
		t.Fatalf("blob value round trip mismatch")
	}
}

func TestInlineValueResemblingBlobMarkerIsNotMisreadAsBlob(t *testing.T) {
	log := txlog.NewMemLog()
	ctx := context.Background()

	forged := make([]byte, 25)
	forged[0] = blobMarker
	for i := 1; i < len(forged); i++ {
		forged[i] = byte(i)
	}

	base := Open(log, NoRoot, 4)
	mut := base.NewMutable()
	mut.Put([]byte("k"), forged)
	root, expired, err := mut.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := drain(expired); n != 0 {
		t.Fatalf("commit of an inline value must not report any expired blob address, got %d", n)
	}

	snap := Open(log, root, 4)
	got, ok, err := snap.Get(ctx, []byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get(k): ok=%v err=%v", ok, err)
	}
	if len(got) != len(forged) || string(got) != string(forged) {
		t.Fatalf("inline value starting with blobMarker was corrupted on read back: got %x want %x", got, forged)
	}
}

func drain(it ExpiredIterator) int {
	n := 0
	for {
		_, ok := it()
		if !ok {
			return n
		}
		n++
	}
}

func TestExpireTreeReturnsEveryReachableAddress(t *testing.T) {
	log := txlog.NewMemLog()
	ctx := context.Background()

	base := Open(log, NoRoot, 2) // small page size to force multiple nodes
	mut := base.NewMutable()
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		mut.Put([]byte(k), []byte(k))
	}
	root, _, err := mut.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	iter, err := ExpireTree(ctx, log, root)
	if err != nil {
		t.Fatalf("ExpireTree: %v", err)
	}
	n := 0
	for {
		if _, ok := iter(); !ok {
			break
		}
		n++
	}
	// Five keys at page size 2 build three leaves under one internal root.
	if n != 4 {
		t.Fatalf("ExpireTree must report every reachable node (3 leaves + 1 root), want 4, got %d", n)
	}
}

func TestExpireTreeOfEmptyTreeYieldsNothing(t *testing.T) {
	ctx := context.Background()
	log := txlog.NewMemLog()
	iter, err := ExpireTree(ctx, log, NoRoot)
	if err != nil {
		t.Fatalf("ExpireTree: %v", err)
	}
	if _, ok := iter(); ok {
		t.Fatalf("expiring a never-written tree must yield nothing")
	}
}
