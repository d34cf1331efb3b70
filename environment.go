package xodus

import (
	"context"
	"encoding/binary"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/leventov/xodus/bindings"
	"github.com/leventov/xodus/gc"
	"github.com/leventov/xodus/txlog"
	"github.com/leventov/xodus/xcache"
	"github.com/leventov/xodus/xtree"
)

const (
	logFileName     = "xodus.log"
	pointerFileName = "meta.pointer"
)

// Environment is the coordinator tying together the log, the current
// MetaTree, live transactions, deferred tasks and the garbage collector. It
// is created with Open; Activate starts the stuck transaction monitor when
// one is configured. The only goroutine Open starts is the GC worker's (when
// GC is enabled), which holds no reference to the Environment, so a
// half-constructed Environment is never visible to another goroutine.
type Environment struct {
	dir    string
	config EnvironmentConfig
	log    txlog.Log
	codec  *bindings.Codec
	gc     gc.GC

	txns     *TransactionSet
	deferred *DeferredTaskQueue
	monitor  *StuckTransactionMonitor

	commitMu sync.Mutex
	metaMu   sync.Mutex
	current  *MetaTree

	structureMu sync.Mutex
	structureID int64

	inoperativeMu    sync.Mutex
	inoperativeCause error
}

// Open constructs an Environment rooted at dir, creating the directory's log
// and reading exodus.properties if present. When GC is enabled it starts the
// GC worker's background goroutine. It does not start the stuck transaction
// monitor; call Activate for that.
func Open(ctx context.Context, dir string) (*Environment, error) {
	ConfigureLogging()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("xodus: create environment directory: %w", err)
	}
	cfg, err := LoadEnvironmentConfig(dir)
	if err != nil {
		return nil, err
	}

	logPath := filepath.Join(dir, logFileName)
	l, err := openLogWithRetry(ctx, logPath)
	if err != nil {
		return nil, err
	}

	profileCache := xcache.NewByteCache(cfg.CacheBackend, cfg.RedisAddr, dir, 64, 4096)
	codec := bindings.NewCodec(cfg.Interner, profileCache)

	env := &Environment{
		dir:      dir,
		config:   cfg,
		log:      l,
		codec:    codec,
		txns:     NewTransactionSet(),
		deferred: NewDeferredTaskQueue(ctx),
	}

	root, structureID, err := readMetaPointer(dir)
	if err != nil {
		log.Warn("xodus: could not read meta pointer, starting fresh", "err", err)
		root, structureID = xtree.NoRoot, 0
	}
	if root != xtree.NoRoot && txlog.Address(root) >= l.HighAddress() {
		root = xtree.NoRoot
	}
	env.current = newMetaTree(l, root, cfg.TreeMaxPageSize)
	env.structureID = structureID

	if cfg.GCEnabled {
		env.gc = gc.NewWorker(ctx, profileCache)
	} else {
		env.gc = gc.NoopGC{}
	}

	return env, nil
}

func openLogWithRetry(ctx context.Context, path string) (txlog.Log, error) {
	opts := txlog.FileLogOptions{UseDirectIO: true, CacheCapacity: 512}
	l, err := txlog.OpenFileLog(path, opts)
	if err == nil {
		return l, nil
	}
	if !isTransientOpenError(err) {
		return nil, NewError(Unknown, "", err)
	}
	rerr := retryOpenLog(ctx, func(ctx context.Context) error {
		var oerr error
		l, oerr = txlog.OpenFileLog(path, opts)
		return oerr
	}, func(ctx context.Context) {
		log.Error("xodus: giving up opening log", "path", path)
	})
	if rerr != nil {
		return nil, NewError(Unknown, "", rerr)
	}
	return l, nil
}

// Activate spawns the environment's background collaborators: the stuck
// transaction monitor, if configured. Separated from Open so the
// environment is fully constructed before anything can observe it running.
func (env *Environment) Activate() {
	if env.config.MonitorTxnsTimeout > 0 {
		env.monitor = startStuckTransactionMonitor(env.txns, env.config.MonitorTxnsTimeout)
	}
}

// Codec returns the string binding codec configured for this environment.
func (env *Environment) Codec() *bindings.Codec { return env.codec }

func (env *Environment) checkIsOperative() error {
	env.inoperativeMu.Lock()
	cause := env.inoperativeCause
	env.inoperativeMu.Unlock()
	if cause != nil {
		return cause
	}
	return nil
}

func (env *Environment) setInoperative(cause error) {
	env.inoperativeMu.Lock()
	defer env.inoperativeMu.Unlock()
	if env.inoperativeCause == nil {
		env.inoperativeCause = NewError(Inoperative, "", cause)
		log.Error("xodus: environment is now inoperative", "cause", cause)
	}
}

func (env *Environment) currentMetaTree() *MetaTree {
	env.metaMu.Lock()
	defer env.metaMu.Unlock()
	return env.current
}

// allocateStructureID increments the structure-id counter, skipping any
// value whose low 8 bits are zero so a serialized id never collides with a
// zero-terminated name key sharing the MetaTree's key space.
func (env *Environment) allocateStructureID() int64 {
	env.structureMu.Lock()
	defer env.structureMu.Unlock()
	env.structureID++
	if env.structureID&0xff == 0 {
		env.structureID++
	}
	return env.structureID
}

func (env *Environment) persistMetaPointer(root int64) {
	env.structureMu.Lock()
	id := env.structureID
	env.structureMu.Unlock()
	if err := writeMetaPointer(env.dir, root, id); err != nil {
		log.Warn("xodus: failed to persist meta pointer", "err", err)
	}
}

// ExecuteTransactionSafeTask runs task once no live transaction could still
// observe the environment's state as of registration. If no transaction is
// currently live, task runs immediately, inline; otherwise it is queued
// behind the newest live transaction's snapshot root and dispatched by a
// later finishTransaction's sweep, once every transaction that could still
// see the pre-registration state has finished.
func (env *Environment) ExecuteTransactionSafeTask(ctx context.Context, task func(ctx context.Context) error) {
	newest, hasLive := env.txns.Newest()
	if !hasLive {
		if err := task(ctx); err != nil {
			log.Warn("xodus: transaction-safe task failed", "err", err)
		}
		return
	}
	env.deferred.Register(task, newest)
}

// finishTransaction removes txn from the live set and sweeps the deferred
// task queue against the new oldest live root.
func (env *Environment) finishTransaction(ctx context.Context, txn *Transaction) {
	env.txns.Remove(txn)
	oldest, hasLive := env.txns.Oldest()
	env.deferred.Sweep(ctx, oldest, hasLive)
}

// beginInternal is shared by all BeginTransaction variants. cloneMeta eagerly
// materializes a mutable meta overlay at snapshot acquisition instead of
// lazily on first store registration, and marks the transaction non-idempotent
// from the start so Flush always drives a real commit rather than taking the
// no-op fast path, even if the transaction never touches an ordinary data
// tree. BeginTransactionWithClonedMetaTree is the variant that sets it.
func (env *Environment) beginInternal(ctx context.Context, readonly, cloneMeta bool, beginHook, commitHook func(ctx context.Context)) (*Transaction, error) {
	if err := env.checkIsOperative(); err != nil {
		return nil, err
	}
	env.metaMu.Lock()
	meta := env.current
	if beginHook != nil {
		beginHook(ctx)
	}
	env.metaMu.Unlock()

	txn := newTransaction(env, readonly, beginHook, commitHook, meta, env.monitor != nil)
	if cloneMeta {
		txn.mutableMeta = newMutableMetaTree(meta)
		txn.idempotent = false
	}
	env.txns.Add(txn)
	return txn, nil
}

// BeginTransaction starts a read/write transaction against the current snapshot.
func (env *Environment) BeginTransaction(ctx context.Context) (*Transaction, error) {
	return env.beginInternal(ctx, false, false, nil, nil)
}

// BeginTransactionWithHooks starts a read/write transaction, running
// beginHook under the meta-lock at snapshot acquisition and commitHook under
// the meta-lock at snapshot publication.
func (env *Environment) BeginTransactionWithHooks(ctx context.Context, beginHook, commitHook func(ctx context.Context)) (*Transaction, error) {
	return env.beginInternal(ctx, false, false, beginHook, commitHook)
}

// BeginTransactionWithClonedMetaTree starts a read/write transaction carrying
// its own private mutable meta overlay from the outset, guaranteeing it
// always produces a real commit point on Flush regardless of whether it ends
// up mutating any store.
func (env *Environment) BeginTransactionWithClonedMetaTree(ctx context.Context) (*Transaction, error) {
	return env.beginInternal(ctx, false, true, nil, nil)
}

// BeginReadonlyTransaction starts a transaction that may never materialize a
// mutable tree.
func (env *Environment) BeginReadonlyTransaction(ctx context.Context) (*Transaction, error) {
	return env.beginInternal(ctx, true, false, nil, nil)
}

// ExecuteInTransaction runs fn against a fresh transaction, retrying with a
// revert whenever flush reports a stale snapshot. It always aborts the
// transaction, even after a successful flush (a no-op on a terminal state).
func (env *Environment) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context, txn *Transaction) error) error {
	for {
		txn, err := env.BeginTransaction(ctx)
		if err != nil {
			return err
		}
		if err := fn(ctx, txn); err != nil {
			txn.Abort(ctx)
			return err
		}
		ok, err := txn.Flush(ctx, false)
		if err != nil {
			txn.Abort(ctx)
			return err
		}
		if ok {
			txn.Abort(ctx)
			return nil
		}
		if err := txn.Revert(ctx); err != nil {
			txn.Abort(ctx)
			return err
		}
	}
}

// ExecuteInReadonlyTransaction runs fn once against a read-only transaction, with no retry loop.
func (env *Environment) ExecuteInReadonlyTransaction(ctx context.Context, fn func(ctx context.Context, txn *Transaction) error) error {
	txn, err := env.BeginReadonlyTransaction(ctx)
	if err != nil {
		return err
	}
	defer txn.Abort(ctx)
	return fn(ctx, txn)
}

// ComputeInTransaction runs fn against a fresh transaction, retrying on a
// stale snapshot, and returns its last successful result.
func ComputeInTransaction[T any](ctx context.Context, env *Environment, fn func(ctx context.Context, txn *Transaction) (T, error)) (T, error) {
	var zero T
	for {
		txn, err := env.BeginTransaction(ctx)
		if err != nil {
			return zero, err
		}
		result, err := fn(ctx, txn)
		if err != nil {
			txn.Abort(ctx)
			return zero, err
		}
		ok, err := txn.Flush(ctx, false)
		if err != nil {
			txn.Abort(ctx)
			return zero, err
		}
		if ok {
			txn.Abort(ctx)
			return result, nil
		}
		if err := txn.Revert(ctx); err != nil {
			txn.Abort(ctx)
			return zero, err
		}
	}
}

// ComputeInReadonlyTransaction runs fn once against a read-only transaction and returns its result.
func ComputeInReadonlyTransaction[T any](ctx context.Context, env *Environment, fn func(ctx context.Context, txn *Transaction) (T, error)) (T, error) {
	var zero T
	txn, err := env.BeginReadonlyTransaction(ctx)
	if err != nil {
		return zero, err
	}
	defer txn.Abort(ctx)
	return fn(ctx, txn)
}

// Close is one-way: gc.Finish runs outside any lock, then commit-lock guards
// the close-forcibly check, GC utilization persistence and log close, and
// finally every deferred task is drained regardless of its root gate.
func (env *Environment) Close(ctx context.Context) error {
	env.gc.Finish()

	env.commitMu.Lock()
	if err := env.checkIsOperative(); err != nil {
		if kind, ok := KindOf(err); ok && kind == EnvironmentClosed {
			env.commitMu.Unlock()
			return nil
		}
		env.commitMu.Unlock()
		return err
	}
	if env.txns.Len() > 0 && !env.config.CloseForcedly {
		env.commitMu.Unlock()
		return ErrActive
	}
	if err := env.gc.SaveUtilizationProfile(); err != nil {
		log.Warn("xodus: failed to save GC utilization profile", "err", err)
	}
	if err := env.log.Close(); err != nil {
		log.Warn("xodus: error closing log", "err", err)
	}
	env.inoperativeMu.Lock()
	env.inoperativeCause = NewError(EnvironmentClosed, "", nil)
	env.inoperativeMu.Unlock()
	env.commitMu.Unlock()

	if env.monitor != nil {
		env.monitor.stop()
	}

	return env.deferred.DrainAll(ctx, 30*time.Second)
}

// Clear suspends the GC, truncates the log and republishes an empty
// MetaTree. It fails with Active if any transaction is still live.
func (env *Environment) Clear(ctx context.Context) error {
	env.gc.Suspend()
	defer env.gc.Resume()

	env.commitMu.Lock()
	defer env.commitMu.Unlock()

	if err := env.checkIsOperative(); err != nil {
		return err
	}
	if env.txns.Len() > 0 {
		return ErrActive
	}

	env.metaMu.Lock()
	if err := env.log.Clear(); err != nil {
		env.metaMu.Unlock()
		return fmt.Errorf("xodus: clear log: %w", err)
	}
	env.current = newMetaTree(env.log, xtree.NoRoot, env.config.TreeMaxPageSize)
	env.metaMu.Unlock()

	env.structureMu.Lock()
	env.structureID = 0
	env.structureMu.Unlock()

	env.deferred.Sweep(ctx, 0, false)
	env.persistMetaPointer(xtree.NoRoot)
	return nil
}

func readMetaPointer(dir string) (root int64, structureID int64, err error) {
	b, err := os.ReadFile(filepath.Join(dir, pointerFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return xtree.NoRoot, 0, nil
		}
		return xtree.NoRoot, 0, err
	}
	if len(b) != 16 {
		return xtree.NoRoot, 0, fmt.Errorf("xodus: corrupt meta pointer file, want 16 bytes got %d", len(b))
	}
	root = int64(binary.BigEndian.Uint64(b[0:8]))
	structureID = int64(binary.BigEndian.Uint64(b[8:16]))
	return root, structureID, nil
}

func writeMetaPointer(dir string, root, structureID int64) error {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(root))
	binary.BigEndian.PutUint64(b[8:16], uint64(structureID))
	tmp := filepath.Join(dir, pointerFileName+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, pointerFileName))
}
