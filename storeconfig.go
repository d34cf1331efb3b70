package xodus

// StoreConfig is supplied to OpenStore. It mirrors the fields of TreeMetaInfo
// that a caller can request, plus UseExisting which controls creation policy.
type StoreConfig struct {
	// Duplicates enables non-unique keys (multiple values per key) on this store.
	Duplicates bool
	// Prefixing is recorded as TreeMetaInfo.KeyPrefixing and checked on reopen.
	// Every store is backed by the same xtree B-tree whatever this flag says.
	Prefixing bool
	// UseExisting requires the store to already exist; OpenStore fails with
	// NoSuchStore rather than creating it when this is true and the store is absent.
	UseExisting bool
}
