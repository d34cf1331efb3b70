package xodus

import (
	"sync"

	"github.com/google/btree"
)

// TransactionSet is the ordered collection of live transactions, queryable
// for the oldest and newest snapshot root in O(log n). Re-registering an
// already-present transaction (as revert does, after it acquires a fresh
// snapshot) replaces its entry rather than duplicating it.
type TransactionSet struct {
	mu   sync.Mutex
	tree *btree.BTreeG[txnSetItem]
	byID map[UUID]txnSetItem
	seq  uint64
}

type txnSetItem struct {
	root int64
	seq  uint64
	txn  *Transaction
}

func txnSetItemLess(a, b txnSetItem) bool {
	if a.root != b.root {
		return a.root < b.root
	}
	return a.seq < b.seq
}

// NewTransactionSet returns an empty TransactionSet.
func NewTransactionSet() *TransactionSet {
	return &TransactionSet{
		tree: btree.NewG(32, txnSetItemLess),
		byID: make(map[UUID]txnSetItem),
	}
}

// Add registers txn at its current snapshot root. If txn is already
// present, its old entry is removed first so no duplicate remains.
func (s *TransactionSet) Add(txn *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(txn.id)
	s.seq++
	item := txnSetItem{root: txn.snapshotRoot, seq: s.seq, txn: txn}
	s.tree.ReplaceOrInsert(item)
	s.byID[txn.id] = item
}

// Remove drops txn from the set. It is a no-op if txn isn't present.
func (s *TransactionSet) Remove(txn *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(txn.id)
}

func (s *TransactionSet) removeLocked(id UUID) {
	if old, ok := s.byID[id]; ok {
		s.tree.Delete(old)
		delete(s.byID, id)
	}
}

// Oldest returns the smallest live snapshot root, or ok=false if the set is empty.
func (s *TransactionSet) Oldest() (root int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, found := s.tree.Min()
	if !found {
		return 0, false
	}
	return item.root, true
}

// Newest returns the largest live snapshot root, or ok=false if the set is empty.
func (s *TransactionSet) Newest() (root int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, found := s.tree.Max()
	if !found {
		return 0, false
	}
	return item.root, true
}

// Len reports the number of live transactions.
func (s *TransactionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// Live returns a snapshot slice of every currently registered transaction,
// used by the StuckTransactionMonitor to scan ages without holding the set's
// lock for the duration of the scan.
func (s *TransactionSet) Live() []*Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Transaction, 0, len(s.byID))
	for _, item := range s.byID {
		out = append(out, item.txn)
	}
	return out
}
