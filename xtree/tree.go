package xtree

import (
	"context"
	"sort"

	"github.com/leventov/xodus/txlog"
)

// NoRoot marks a tree that has never had a root written yet.
const NoRoot int64 = -1

// ExpiredIterator is a flat lazy sequence of log addresses superseded by a
// commit. It is drained at will and never restarted.
type ExpiredIterator func() (int64, bool)

// Tree is an immutable snapshot opened at a root address.
type Tree interface {
	Root() int64
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	// NewMutable returns a copy-on-write mutable view of this snapshot.
	NewMutable() MutableTree
}

// MutableTree tracks pending writes against a base snapshot. It never
// changes the base snapshot's own Get results; Commit writes a new root.
type MutableTree interface {
	Tree
	Put(key, value []byte)
	Delete(key []byte)
	// Commit rebuilds the tree with all pending writes applied, returning
	// the new root address and an iterator over every address (node or
	// out-of-line blob) superseded by the rebuild.
	Commit(ctx context.Context) (newRoot int64, expired ExpiredIterator, err error)
}

// bTree is the immutable Tree implementation.
type bTree struct {
	log      txlog.Log
	root     int64
	pageSize int
}

// Open returns a Tree snapshot rooted at root. Pass NoRoot for a brand-new,
// empty tree.
func Open(log txlog.Log, root int64, pageSize int) Tree {
	return &bTree{log: log, root: root, pageSize: pageSize}
}

func (t *bTree) Root() int64 { return t.root }

func (t *bTree) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return get(ctx, t.log, t.root, key)
}

func (t *bTree) NewMutable() MutableTree {
	return &mutableBTree{base: t, overlay: make(map[string]overlayEntry)}
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

type mutableBTree struct {
	base    *bTree
	overlay map[string]overlayEntry
}

func (m *mutableBTree) Root() int64 { return m.base.root }

func (m *mutableBTree) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if e, ok := m.overlay[string(key)]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	return m.base.Get(ctx, key)
}

func (m *mutableBTree) NewMutable() MutableTree {
	return m
}

func (m *mutableBTree) Put(key, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.overlay[string(key)] = overlayEntry{value: cp}
}

func (m *mutableBTree) Delete(key []byte) {
	m.overlay[string(key)] = overlayEntry{deleted: true}
}

func (m *mutableBTree) Commit(ctx context.Context) (int64, ExpiredIterator, error) {
	base, err := walkAll(ctx, m.base.log, m.base.root)
	if err != nil {
		return 0, nil, err
	}

	merged := make(map[string][]byte, len(base.entries)+len(m.overlay))
	for _, e := range base.entries {
		merged[string(e.Key)] = e.Value
	}
	for k, e := range m.overlay {
		if e.deleted {
			delete(merged, k)
			continue
		}
		merged[k] = e.value
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = Entry{Key: []byte(k), Value: merged[k]}
	}

	pageSize := m.base.pageSize
	if pageSize <= 0 {
		pageSize = 128
	}
	newRoot, err := buildTree(ctx, m.base.log, entries, pageSize)
	if err != nil {
		return 0, nil, err
	}

	i := 0
	iter := func() (int64, bool) {
		if i >= len(base.expired) {
			return 0, false
		}
		addr := base.expired[i]
		i++
		return addr, true
	}
	return newRoot, iter, nil
}
