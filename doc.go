// Package xodus implements the environment core of an embedded, transactional,
// append-only key/value storage engine: Environment, MetaTree, Transaction,
// TransactionSet, the deferred task queue and the stuck-transaction monitor.
//
// The on-disk log format and the B-tree that indexes it are external
// collaborators, implemented in the txlog and xtree subpackages respectively.
// Environment coordinates them but does not know their internals.
package xodus
