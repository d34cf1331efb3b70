package xodus

import "context"

// Store is a handle to a named tree opened within a transaction. All reads
// and writes through a Store are scoped to the transaction that opened it;
// a Store obtained from one transaction must not be used with another.
type Store struct {
	txn  *Transaction
	name string
}

// Name returns the store's name as passed to OpenStore.
func (s *Store) Name() string { return s.name }

// Get looks up key in the store, considering the transaction's own pending
// writes before falling back to its snapshot.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return s.txn.get(ctx, s.name, key)
}

// Put writes key/value, materializing a copy-on-write tree for this store on
// first use. It fails on a read-only transaction.
func (s *Store) Put(ctx context.Context, key, value []byte) error {
	return s.txn.put(ctx, s.name, key, value)
}

// Delete removes key from the store. It fails on a read-only transaction.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	return s.txn.deleteKey(ctx, s.name, key)
}

// GetString looks up a string key, using the environment's configured string
// binding to encode key and decode the stored value.
func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	codec := s.txn.env.Codec()
	raw, ok, err := s.txn.get(ctx, s.name, codec.Encode(key))
	if err != nil || !ok {
		return "", ok, err
	}
	value, err := codec.Decode(raw)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PutString writes a string key/value pair, using the environment's
// configured string binding to encode both.
func (s *Store) PutString(ctx context.Context, key, value string) error {
	codec := s.txn.env.Codec()
	return s.txn.put(ctx, s.name, codec.Encode(key), codec.Encode(value))
}
