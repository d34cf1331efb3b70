package bindings

import (
	"sync"

	"github.com/leventov/xodus/xcache"
)

// InternerKind selects a string-interning strategy for the binding layer.
// There is no process-global switch; it is threaded in explicitly via NewCodec.
type InternerKind int

const (
	// InternerNone disables interning; Decode allocates a fresh string each call.
	InternerNone InternerKind = iota
	// InternerJava reproduces the source's plain deduplication-table strategy.
	InternerJava
	// InternerXodus backs the dedup table with an xcache.Cache, so entries can
	// be shared across an environment's readers or, with a Redis backend,
	// across processes.
	InternerXodus
)

// ByteCache is the cache type the xodus interner is backed by.
type ByteCache = xcache.Cache[string, []byte]

// Interner deduplicates decoded strings.
type Interner interface {
	Intern(s string) string
}

func newInterner(kind InternerKind, cache ByteCache) Interner {
	switch kind {
	case InternerJava:
		return &javaInterner{}
	case InternerXodus:
		if cache == nil {
			cache = xcache.NewMemoryCache[string, []byte](64, 4096)
		}
		return &xodusInterner{cache: cache}
	default:
		return nil
	}
}

// javaInterner is a plain sync.Map-based dedup table: the first string with a
// given value wins and is returned for every subsequent equal string.
type javaInterner struct {
	table sync.Map
}

func (j *javaInterner) Intern(s string) string {
	if v, ok := j.table.Load(s); ok {
		return v.(string)
	}
	actual, _ := j.table.LoadOrStore(s, s)
	return actual.(string)
}

// xodusInterner backs the dedup table with an xcache.Cache so it can be
// shared beyond a single interner instance's lifetime, e.g. across an
// environment's readers via a Redis backend.
type xodusInterner struct {
	cache ByteCache
}

func (x *xodusInterner) Intern(s string) string {
	got := x.cache.Get([]string{s})
	if len(got) == 1 && got[0] != nil {
		return string(got[0])
	}
	x.cache.Set([]xcache.Pair[string, []byte]{{Key: s, Value: []byte(s)}})
	return s
}
