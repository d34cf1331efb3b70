package xodus

// TreeMetaInfo is the per-store descriptor held in the MetaTree. StructureID
// is a positive integer whose low 8 bits are never zero: its big-endian byte
// serialization therefore never ends in 0x00, unlike a zero-terminated UTF-8
// name key. The MetaTree is keyed by store name only and carries the
// StructureID inside the encoded value (see encodeTreeMetaInfo).
type TreeMetaInfo struct {
	StructureID   int64
	HasDuplicates bool
	KeyPrefixing  bool
	// Root is the store's tree root log address, NoRoot (-1) for a store that
	// has never had an entry committed.
	Root int64
}

// IsCompatible reports whether an open request against an existing store's
// metadata is compatible. Duplicates must match exactly; a Prefixing=true
// request against non-prefixing metadata is rejected, but a Prefixing=false
// request against prefixing metadata is allowed (see the preserved open
// question in transaction.go's OpenStore).
func (m TreeMetaInfo) IsCompatible(duplicates, prefixing bool) bool {
	if m.HasDuplicates != duplicates {
		return false
	}
	return !(prefixing && !m.KeyPrefixing)
}
