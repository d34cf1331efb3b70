package xodus

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/leventov/xodus/txlog"
	"github.com/leventov/xodus/xtree"
)

// MetaTree is an immutable snapshot mapping store names to TreeMetaInfo. It
// is itself backed by an xtree.Tree; a fresh MetaTree.tree.Root() becomes
// the new snapshotRoot published after a successful write commit.
type MetaTree struct {
	tree     xtree.Tree
	root     int64
	log      txlog.Log
	pageSize int
}

// newMetaTree opens a MetaTree snapshot at root against log.
func newMetaTree(log txlog.Log, root int64, pageSize int) *MetaTree {
	return &MetaTree{tree: xtree.Open(log, root, pageSize), root: root, log: log, pageSize: pageSize}
}

// Root returns the log address this MetaTree snapshot is rooted at.
func (m *MetaTree) Root() int64 { return m.root }

// GetMetaInfo looks up name, encoded as UTF-8 with a terminating zero byte.
func (m *MetaTree) GetMetaInfo(ctx context.Context, name string) (TreeMetaInfo, bool, error) {
	raw, ok, err := m.tree.Get(ctx, encodeStoreName(name))
	if err != nil || !ok {
		return TreeMetaInfo{}, false, err
	}
	info, err := decodeTreeMetaInfo(raw)
	if err != nil {
		return TreeMetaInfo{}, false, err
	}
	return info, true, nil
}

// mutableMetaTree overlays pending store registrations/removals on top of a
// MetaTree snapshot, mirroring the per-store mutableTrees a Transaction
// keeps for ordinary data trees.
type mutableMetaTree struct {
	base    *MetaTree
	overlay xtree.MutableTree
}

func newMutableMetaTree(base *MetaTree) *mutableMetaTree {
	return &mutableMetaTree{base: base, overlay: base.tree.NewMutable()}
}

func (m *mutableMetaTree) Get(ctx context.Context, name string) (TreeMetaInfo, bool, error) {
	raw, ok, err := m.overlay.Get(ctx, encodeStoreName(name))
	if err != nil || !ok {
		return TreeMetaInfo{}, false, err
	}
	info, err := decodeTreeMetaInfo(raw)
	if err != nil {
		return TreeMetaInfo{}, false, err
	}
	return info, true, nil
}

func (m *mutableMetaTree) Put(name string, info TreeMetaInfo) {
	m.overlay.Put(encodeStoreName(name), encodeTreeMetaInfo(info))
}

func (m *mutableMetaTree) Delete(name string) {
	m.overlay.Delete(encodeStoreName(name))
}

// Commit rebuilds the meta tree with all pending registrations applied,
// returning the new root and an iterator over addresses the rebuild
// superseded.
func (m *mutableMetaTree) Commit(ctx context.Context) (*MetaTree, xtree.ExpiredIterator, error) {
	newRoot, expired, err := m.overlay.Commit(ctx)
	if err != nil {
		return nil, nil, err
	}
	return newMetaTree(m.base.log, newRoot, m.base.pageSize), expired, nil
}

// encodeStoreName is the wire format for MetaTree keys: UTF-8 bytes with a
// terminating zero, matching the binding surface's string encoding so a
// MetaTree dump and a value binding round-trip look the same on the wire.
func encodeStoreName(name string) []byte {
	b := make([]byte, len(name)+1)
	copy(b, name)
	b[len(name)] = 0
	return b
}

// metaInfoSize is structureID(8) + flags(1) + root(8).
const metaInfoSize = 17

func encodeTreeMetaInfo(info TreeMetaInfo) []byte {
	b := make([]byte, metaInfoSize)
	binary.BigEndian.PutUint64(b[0:8], uint64(info.StructureID))
	var flags byte
	if info.HasDuplicates {
		flags |= 1
	}
	if info.KeyPrefixing {
		flags |= 2
	}
	b[8] = flags
	binary.BigEndian.PutUint64(b[9:17], uint64(info.Root))
	return b
}

func decodeTreeMetaInfo(b []byte) (TreeMetaInfo, error) {
	if len(b) != metaInfoSize {
		return TreeMetaInfo{}, fmt.Errorf("xodus: corrupt TreeMetaInfo record, want %d bytes got %d", metaInfoSize, len(b))
	}
	return TreeMetaInfo{
		StructureID:   int64(binary.BigEndian.Uint64(b[0:8])),
		HasDuplicates: b[8]&1 != 0,
		KeyPrefixing:  b[8]&2 != 0,
		Root:          int64(binary.BigEndian.Uint64(b[9:17])),
	}, nil
}
