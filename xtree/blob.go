package xtree

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/leventov/xodus/txlog"
)

// InlineValueThreshold is the maximum value size stored directly in a leaf
// entry. Larger values are written as their own log record and referenced
// by a blobRef. Every Commit rebuilds the whole tree, so each blob is read
// back and written again as a new record on every commit of its tree.
const InlineValueThreshold = 4096

// inlineTag prefixes every inline-stored value on the wire. It is written
// unconditionally by encodeInline, so a leaf entry's wire bytes only ever
// start with blobMarker when this package itself wrote a blob reference
// there — an inline value whose first byte happens to equal blobMarker
// still gets inlineTag prepended ahead of it, so length-and-first-byte
// heuristics can never confuse the two.
const inlineTag = 0x00

func isBlobMarker(v []byte) bool {
	return len(v) == 25 && v[0] == blobMarker
}

func encodeInline(value []byte) []byte {
	b := make([]byte, len(value)+1)
	b[0] = inlineTag
	copy(b[1:], value)
	return b
}

func decodeInline(v []byte) []byte {
	return v[1:]
}

func encodeBlobRef(ref blobRef) []byte {
	b := make([]byte, 25)
	b[0] = blobMarker
	copy(b[1:17], ref.ID[:])
	binary.BigEndian.PutUint64(b[17:25], uint64(ref.Addr))
	return b
}

func decodeBlobRefBytes(v []byte) blobRef {
	var ref blobRef
	copy(ref.ID[:], v[1:17])
	ref.Addr = int64(binary.BigEndian.Uint64(v[17:25]))
	return ref
}

// storeValue writes value inline, or as a blob when it exceeds
// InlineValueThreshold, returning the tagged bytes to place in the leaf entry.
func storeValue(ctx context.Context, log txlog.Log, value []byte) ([]byte, error) {
	if len(value) <= InlineValueThreshold {
		return encodeInline(value), nil
	}
	addr, err := log.Append(ctx, value)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	var ref blobRef
	copy(ref.ID[:], id[:])
	ref.Addr = int64(addr)
	return encodeBlobRef(ref), nil
}

// resolveValue reverses storeValue, reading the blob back from the log when
// the entry holds a reference rather than inline bytes. It also reports the
// blob's log address so callers can track it for expiry.
func resolveValue(ctx context.Context, log txlog.Log, v []byte) (data []byte, blobAddr int64, isBlob bool, err error) {
	if !isBlobMarker(v) {
		return decodeInline(v), 0, false, nil
	}
	ref := decodeBlobRefBytes(v)
	data, err = log.Read(ctx, txlog.Address(ref.Addr))
	if err != nil {
		return nil, 0, true, err
	}
	return data, ref.Addr, true, nil
}
