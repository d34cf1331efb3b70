// Package xtree implements the Tree the environment core treats as an
// external collaborator: a persistent ordered byte-string map addressed
// through a Log, with immutable snapshots opened at a root address and
// copy-on-write mutable trees that yield a new root address on commit.
package xtree

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Entry is one key/value slot in a leaf node, or a separator key (with no
// value) in an internal node, whose child addresses live in node.Children.
type Entry struct {
	Key   []byte
	Value []byte
}

// blobRef marks a value stored out-of-line because it exceeded the inline
// value threshold; the actual bytes live in a separate log record.
type blobRef struct {
	ID   [16]byte
	Addr int64
}

const blobMarker = 0xfe

// node is the on-log representation of a single B-tree page. Internal nodes
// have len(Children) == len(Entries)+1; leaf nodes have no children.
type node struct {
	Leaf     bool
	Entries  []Entry
	Children []int64
}

func init() {
	gob.Register(node{})
}

// encodeNode serializes n for storage in the log. gob is used because the node
// format is an internal implementation detail with no external wire-format
// requirement, and none of the retrieved examples' domain codecs (JSON,
// CEL, protobuf) fit a page format better than the standard library's own
// binary codec would.
func encodeNode(n node) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n); err != nil {
		return nil, fmt.Errorf("xtree: encode node: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeNode(b []byte) (node, error) {
	var n node
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&n); err != nil {
		return node{}, fmt.Errorf("xtree: decode node: %w", err)
	}
	return n, nil
}

func (n node) search(key []byte) int {
	lo, hi := 0, len(n.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(n.Entries[mid].Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
