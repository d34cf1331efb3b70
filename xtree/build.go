package xtree

import (
	"context"

	"github.com/leventov/xodus/txlog"
)

// buildTree bulk-loads a fresh, balanced tree from entries (already sorted
// by key with no duplicates) and returns its root address. Values larger
// than InlineValueThreshold are spilled to their own log record.
func buildTree(ctx context.Context, log txlog.Log, entries []Entry, pageSize int) (int64, error) {
	if pageSize < 2 {
		pageSize = 2
	}
	if len(entries) == 0 {
		empty := node{Leaf: true}
		return writeNode(ctx, log, empty)
	}

	type child struct {
		addr     int64
		firstKey []byte
	}

	var children []child
	for i := 0; i < len(entries); i += pageSize {
		end := i + pageSize
		if end > len(entries) {
			end = len(entries)
		}
		leaf := node{Leaf: true, Entries: make([]Entry, end-i)}
		for j := i; j < end; j++ {
			stored, err := storeValue(ctx, log, entries[j].Value)
			if err != nil {
				return 0, err
			}
			leaf.Entries[j-i] = Entry{Key: entries[j].Key, Value: stored}
		}
		addr, err := writeNode(ctx, log, leaf)
		if err != nil {
			return 0, err
		}
		children = append(children, child{addr: addr, firstKey: entries[i].Key})
	}

	for len(children) > 1 {
		var next []child
		for i := 0; i < len(children); i += pageSize + 1 {
			end := i + pageSize + 1
			if end > len(children) {
				end = len(children)
			}
			group := children[i:end]
			internal := node{
				Entries:  make([]Entry, len(group)-1),
				Children: make([]int64, len(group)),
			}
			for j, c := range group {
				internal.Children[j] = c.addr
				if j > 0 {
					internal.Entries[j-1] = Entry{Key: c.firstKey}
				}
			}
			addr, err := writeNode(ctx, log, internal)
			if err != nil {
				return 0, err
			}
			next = append(next, child{addr: addr, firstKey: group[0].firstKey})
		}
		children = next
	}
	return children[0].addr, nil
}

func writeNode(ctx context.Context, log txlog.Log, n node) (int64, error) {
	b, err := encodeNode(n)
	if err != nil {
		return 0, err
	}
	addr, err := log.Append(ctx, b)
	if err != nil {
		return 0, err
	}
	return int64(addr), nil
}
