package xtree

import (
	"bytes"
	"context"

	"github.com/leventov/xodus/txlog"
)

// get descends from root looking for key, resolving out-of-line blobs.
func get(ctx context.Context, log txlog.Log, root int64, key []byte) ([]byte, bool, error) {
	if root < 0 {
		return nil, false, nil
	}
	addr := root
	for {
		raw, err := log.Read(ctx, txlog.Address(addr))
		if err != nil {
			return nil, false, err
		}
		n, err := decodeNode(raw)
		if err != nil {
			return nil, false, err
		}
		idx := n.search(key)
		if n.Leaf {
			if idx < len(n.Entries) && bytes.Equal(n.Entries[idx].Key, key) {
				data, _, _, err := resolveValue(ctx, log, n.Entries[idx].Value)
				if err != nil {
					return nil, false, err
				}
				return data, true, nil
			}
			return nil, false, nil
		}
		if idx < len(n.Entries) && bytes.Equal(n.Entries[idx].Key, key) {
			addr = n.Children[idx+1]
		} else {
			addr = n.Children[idx]
		}
	}
}

// ExpireTree returns an iterator over every node and out-of-line blob
// address reachable from root, for callers that discard a whole tree outside
// the ordinary commit path (store truncation and removal).
func ExpireTree(ctx context.Context, log txlog.Log, root int64) (ExpiredIterator, error) {
	res, err := walkAll(ctx, log, root)
	if err != nil {
		return nil, err
	}
	i := 0
	return func() (int64, bool) {
		if i >= len(res.expired) {
			return 0, false
		}
		addr := res.expired[i]
		i++
		return addr, true
	}, nil
}

// walkResult collects the fully materialized contents of a tree, plus every
// node and out-of-line blob address reachable from its root, so a rebuilding
// commit can report them all as superseded.
type walkResult struct {
	entries  []Entry
	expired  []int64
}

func walkAll(ctx context.Context, log txlog.Log, root int64) (walkResult, error) {
	var res walkResult
	if root < 0 {
		return res, nil
	}
	if err := walkNode(ctx, log, root, &res); err != nil {
		return walkResult{}, err
	}
	return res, nil
}

func walkNode(ctx context.Context, log txlog.Log, addr int64, res *walkResult) error {
	raw, err := log.Read(ctx, txlog.Address(addr))
	if err != nil {
		return err
	}
	n, err := decodeNode(raw)
	if err != nil {
		return err
	}
	res.expired = append(res.expired, addr)

	if n.Leaf {
		for _, e := range n.Entries {
			data, blobAddr, isBlob, err := resolveValue(ctx, log, e.Value)
			if err != nil {
				return err
			}
			if isBlob {
				res.expired = append(res.expired, blobAddr)
			}
			res.entries = append(res.entries, Entry{Key: e.Key, Value: data})
		}
		return nil
	}
	for _, child := range n.Children {
		if err := walkNode(ctx, log, child, res); err != nil {
			return err
		}
	}
	return nil
}
