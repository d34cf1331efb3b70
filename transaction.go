package xodus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/leventov/xodus/gc"
	"github.com/leventov/xodus/xtree"
)

// TransactionState is a Transaction's position in its lifecycle:
// Active -> (Flushed | Reverted | Aborted). Flushed and Aborted are
// terminal; Reverted returns to Active with a refreshed snapshot.
type TransactionState int

const (
	TransactionActive TransactionState = iota
	TransactionFlushed
	TransactionReverted
	TransactionAborted
)

func (s TransactionState) String() string {
	switch s {
	case TransactionActive:
		return "Active"
	case TransactionFlushed:
		return "Flushed"
	case TransactionReverted:
		return "Reverted"
	case TransactionAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Transaction is a snapshot-owning unit of work. It is not safe for
// concurrent use by more than one goroutine at a time.
type Transaction struct {
	id  UUID
	env *Environment

	mu               sync.Mutex
	state            TransactionState
	snapshotRoot     int64
	snapshotMetaTree *MetaTree
	mutableTrees     map[string]xtree.MutableTree
	mutableMeta      *mutableMetaTree
	pendingExpired   []xtree.ExpiredIterator

	readonly   bool
	idempotent bool

	created       time.Time
	creatingStack []byte

	beginHook  func(ctx context.Context)
	commitHook func(ctx context.Context)
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() UUID { return t.id }

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SnapshotRoot returns the MetaTree root this transaction currently observes.
func (t *Transaction) SnapshotRoot() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotRoot
}

// IsReadOnly reports whether this transaction may never materialize a
// mutable tree.
func (t *Transaction) IsReadOnly() bool { return t.readonly }

var errNotActive = errors.New("xodus: transaction is not active")
var errReadOnly = errors.New("xodus: cannot write in a read-only transaction")

// OpenStore looks up name in the transaction's snapshot, optionally creating
// it. creationRequired=false makes a missing store return (nil, nil)
// rather than creating or failing.
func (t *Transaction) OpenStore(ctx context.Context, name string, config StoreConfig, creationRequired bool) (*Store, error) {
	if err := t.requireActive(); err != nil {
		return nil, err
	}
	info, ok, err := t.lookupMeta(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		if !creationRequired {
			return nil, nil
		}
		if config.UseExisting {
			return nil, NewError(NoSuchStore, name, nil)
		}
		id := t.env.allocateStructureID()
		newInfo := TreeMetaInfo{
			StructureID:   id,
			HasDuplicates: config.Duplicates,
			KeyPrefixing:  config.Prefixing,
			Root:          xtree.NoRoot,
		}
		if err := t.registerMeta(name, newInfo); err != nil {
			return nil, err
		}
		return &Store{txn: t, name: name}, nil
	}
	// A prefixing=false request against prefixing metadata silently opens the
	// existing (prefixing) metadata; preserved open question, see DESIGN.md.
	if !info.IsCompatible(config.Duplicates, config.Prefixing) {
		return nil, NewError(ConfigMismatch, name, nil)
	}
	return &Store{txn: t, name: name}, nil
}

// TruncateStore discards the store's existing tree and registers a fresh,
// empty one under the same name and a new structure id.
func (t *Transaction) TruncateStore(ctx context.Context, name string) error {
	if err := t.requireActive(); err != nil {
		return err
	}
	info, ok, err := t.lookupMeta(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(NoSuchStore, name, nil)
	}
	if info.Root != xtree.NoRoot {
		iter, err := xtree.ExpireTree(ctx, t.env.log, info.Root)
		if err != nil {
			return err
		}
		t.registerExpired(iter)
	}
	id := t.env.allocateStructureID()
	newInfo := TreeMetaInfo{
		StructureID:   id,
		HasDuplicates: info.HasDuplicates,
		KeyPrefixing:  info.KeyPrefixing,
		Root:          xtree.NoRoot,
	}
	if err := t.registerMeta(name, newInfo); err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.mutableTrees, name)
	t.mu.Unlock()
	return nil
}

// RemoveStore discards the store's tree and its metadata entry.
func (t *Transaction) RemoveStore(ctx context.Context, name string) error {
	if err := t.requireActive(); err != nil {
		return err
	}
	info, ok, err := t.lookupMeta(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(NoSuchStore, name, nil)
	}
	if info.Root != xtree.NoRoot {
		iter, err := xtree.ExpireTree(ctx, t.env.log, info.Root)
		if err != nil {
			return err
		}
		t.registerExpired(iter)
	}
	t.removeMeta(name)
	t.mu.Lock()
	delete(t.mutableTrees, name)
	t.mu.Unlock()
	return nil
}

func (t *Transaction) requireActive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TransactionActive {
		return errNotActive
	}
	return nil
}

// lookupMeta resolves name against the mutable overlay if one exists, or the
// snapshot otherwise. It must not additionally fall back to the snapshot when
// the overlay answers: the overlay's own Get already consults its base
// snapshot for any key it has no override for, so a further fallback here
// would resurrect a store that removeMeta explicitly deleted
// (the overlay's tombstone reports "not found," which is a real, final
// answer, not "ask the snapshot instead").
func (t *Transaction) lookupMeta(ctx context.Context, name string) (TreeMetaInfo, bool, error) {
	t.mu.Lock()
	mm := t.mutableMeta
	t.mu.Unlock()
	if mm != nil {
		return mm.Get(ctx, name)
	}
	return t.snapshotMetaTree.GetMetaInfo(ctx, name)
}

func (t *Transaction) registerMeta(name string, info TreeMetaInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readonly {
		return errReadOnly
	}
	if t.mutableMeta == nil {
		t.mutableMeta = newMutableMetaTree(t.snapshotMetaTree)
	}
	t.mutableMeta.Put(name, info)
	t.idempotent = false
	return nil
}

func (t *Transaction) removeMeta(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mutableMeta == nil {
		t.mutableMeta = newMutableMetaTree(t.snapshotMetaTree)
	}
	t.mutableMeta.Delete(name)
	t.idempotent = false
}

func (t *Transaction) registerExpired(iter xtree.ExpiredIterator) {
	t.mu.Lock()
	t.pendingExpired = append(t.pendingExpired, iter)
	t.mu.Unlock()
}

func (t *Transaction) get(ctx context.Context, storeName string, key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	mt, hasMutable := t.mutableTrees[storeName]
	t.mu.Unlock()
	if hasMutable {
		return mt.Get(ctx, key)
	}
	info, ok, err := t.lookupMeta(ctx, storeName)
	if err != nil || !ok {
		return nil, false, err
	}
	tree := xtree.Open(t.env.log, info.Root, t.env.config.TreeMaxPageSize)
	return tree.Get(ctx, key)
}

// getMutableTree lazily copy-on-writes storeName's tree, marking the
// transaction non-idempotent.
func (t *Transaction) getMutableTree(ctx context.Context, storeName string) (xtree.MutableTree, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readonly {
		return nil, errReadOnly
	}
	if mt, ok := t.mutableTrees[storeName]; ok {
		return mt, nil
	}
	info, ok, err := t.lookupMetaLocked(ctx, storeName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError(NoSuchStore, storeName, nil)
	}
	base := xtree.Open(t.env.log, info.Root, t.env.config.TreeMaxPageSize)
	mt := base.NewMutable()
	if t.mutableTrees == nil {
		t.mutableTrees = make(map[string]xtree.MutableTree)
	}
	t.mutableTrees[storeName] = mt
	t.idempotent = false
	return mt, nil
}

// lookupMetaLocked is lookupMeta's body for callers that already hold t.mu.
func (t *Transaction) lookupMetaLocked(ctx context.Context, name string) (TreeMetaInfo, bool, error) {
	if t.mutableMeta != nil {
		return t.mutableMeta.Get(ctx, name)
	}
	return t.snapshotMetaTree.GetMetaInfo(ctx, name)
}

func (t *Transaction) put(ctx context.Context, storeName string, key, value []byte) error {
	mt, err := t.getMutableTree(ctx, storeName)
	if err != nil {
		return err
	}
	mt.Put(key, value)
	return nil
}

func (t *Transaction) deleteKey(ctx context.Context, storeName string, key []byte) error {
	mt, err := t.getMutableTree(ctx, storeName)
	if err != nil {
		return err
	}
	mt.Delete(key)
	return nil
}

// Flush attempts to make the transaction's changes durable and visible.
// It returns true iff that succeeded. It returns false, with no error, when
// a concurrent committer advanced the MetaTree past this transaction's
// snapshot; the caller must Revert and retry. A read-only transaction, or a
// still-idempotent one (no mutable tree materialized and no store registered
// or removed) with forceCommit=false, returns true immediately without
// touching the log.
func (t *Transaction) Flush(ctx context.Context, forceCommit bool) (bool, error) {
	if err := t.env.checkIsOperative(); err != nil {
		return false, err
	}
	t.mu.Lock()
	if t.state != TransactionActive {
		t.mu.Unlock()
		return false, errNotActive
	}
	idempotent := t.idempotent
	readonly := t.readonly
	t.mu.Unlock()

	if readonly || (!forceCommit && idempotent) {
		t.mu.Lock()
		t.state = TransactionFlushed
		t.mu.Unlock()
		t.env.finishTransaction(ctx, t)
		return true, nil
	}

	t.env.commitMu.Lock()
	committed, expired, err := t.doCommitLocked(ctx)
	t.env.commitMu.Unlock()
	if err != nil {
		return false, err
	}
	if !committed {
		return false, nil
	}

	t.mu.Lock()
	t.state = TransactionFlushed
	t.mu.Unlock()
	t.env.finishTransaction(ctx, t)

	for _, iter := range expired {
		t.env.gc.FetchExpiredLoggables(ctx, gc.Iterator(iter))
	}
	return true, nil
}

// doCommitLocked runs the writer commit protocol. Caller must hold env.commitMu.
func (t *Transaction) doCommitLocked(ctx context.Context) (bool, []xtree.ExpiredIterator, error) {
	if err := t.env.checkIsOperative(); err != nil {
		return false, nil, err
	}
	current := t.env.currentMetaTree()
	if t.snapshotRoot != current.Root() {
		return false, nil, nil
	}
	highAddr := t.env.log.HighAddress()

	newMeta, expired, err := t.doCommit(ctx)
	if err != nil {
		if rbErr := t.env.log.SetHighAddress(highAddr); rbErr != nil {
			t.env.setInoperative(fmt.Errorf("rollback after commit failure also failed: %w (commit error: %v)", rbErr, err))
			return false, nil, ErrInoperative
		}
		return false, nil, fmt.Errorf("xodus: commit failed, rolled back: %w", err)
	}

	t.env.metaMu.Lock()
	t.env.current = newMeta
	if t.commitHook != nil {
		t.commitHook(ctx)
	}
	t.env.metaMu.Unlock()

	t.env.persistMetaPointer(newMeta.Root())
	return true, expired, nil
}

// doCommit appends every mutated tree and the meta tree overlay to the log,
// without publishing or rolling back; that's the caller's job.
func (t *Transaction) doCommit(ctx context.Context) (*MetaTree, []xtree.ExpiredIterator, error) {
	t.mu.Lock()
	mutableTrees := t.mutableTrees
	mutableMeta := t.mutableMeta
	pendingExpired := t.pendingExpired
	t.mu.Unlock()

	var expired []xtree.ExpiredIterator
	expired = append(expired, pendingExpired...)

	for name, mt := range mutableTrees {
		newRoot, iter, err := mt.Commit(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("commit store %q: %w", name, err)
		}
		expired = append(expired, iter)

		info, ok, err := t.lookupMetaForCommit(ctx, mutableMeta, name)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, NewError(NoSuchStore, name, nil)
		}
		info.Root = newRoot
		if mutableMeta == nil {
			mutableMeta = newMutableMetaTree(t.snapshotMetaTree)
		}
		mutableMeta.Put(name, info)
	}

	if mutableMeta == nil {
		return t.snapshotMetaTree, expired, nil
	}
	newMeta, metaExpired, err := mutableMeta.Commit(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("commit meta tree: %w", err)
	}
	expired = append(expired, metaExpired)
	return newMeta, expired, nil
}

func (t *Transaction) lookupMetaForCommit(ctx context.Context, mutableMeta *mutableMetaTree, name string) (TreeMetaInfo, bool, error) {
	if mutableMeta != nil {
		return mutableMeta.Get(ctx, name)
	}
	return t.snapshotMetaTree.GetMetaInfo(ctx, name)
}

// Revert discards all pending writes and reacquires a fresh MetaTree
// snapshot. It returns the transaction to Active with idempotent=true.
func (t *Transaction) Revert(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TransactionActive {
		t.mu.Unlock()
		return errNotActive
	}
	t.mutableTrees = nil
	t.mutableMeta = nil
	t.pendingExpired = nil
	t.idempotent = true
	t.mu.Unlock()

	meta := t.env.currentMetaTree()
	t.mu.Lock()
	t.snapshotRoot = meta.Root()
	t.snapshotMetaTree = meta
	t.state = TransactionActive
	t.mu.Unlock()

	t.env.txns.Add(t)
	return nil
}

// Abort removes the transaction from the environment's live set and runs
// the deferred-task sweep. It is idempotent once the transaction has reached
// a terminal state.
func (t *Transaction) Abort(ctx context.Context) error {
	t.mu.Lock()
	if t.state == TransactionAborted || t.state == TransactionFlushed {
		t.mu.Unlock()
		return nil
	}
	t.state = TransactionAborted
	t.mu.Unlock()
	t.env.finishTransaction(ctx, t)
	return nil
}

func newTransaction(env *Environment, readonly bool, beginHook, commitHook func(ctx context.Context), meta *MetaTree, captureStack bool) *Transaction {
	txn := &Transaction{
		id:               NewUUID(),
		env:              env,
		state:            TransactionActive,
		snapshotRoot:     meta.Root(),
		snapshotMetaTree: meta,
		readonly:         readonly,
		idempotent:       true,
		created:          time.Now(),
		beginHook:        beginHook,
		commitHook:       commitHook,
	}
	if captureStack {
		txn.creatingStack = debug.Stack()
	}
	return txn
}
