// Package xcache provides a generic MRU cache used by the bindings string
// interner and by the garbage collector's utilization-profile cache, plus an
// optional Redis-backed implementation for sharing that cache across
// processes reading the same environment.
package xcache

// Pair is a tuple used for bulk Set calls.
type Pair[TK comparable, TV any] struct {
	Key   TK
	Value TV
}

// Cache is a generic MRU cache interface. Implementations maintain recency
// and support bulk operations.
type Cache[TK comparable, TV any] interface {
	Clear()
	Set(items []Pair[TK, TV])
	Get(keys []TK) []TV
	Delete(keys []TK)
	Count() int
	IsFull() bool
	Evict()
}

// Backend selects which Cache implementation to construct.
type Backend int

const (
	// BackendMemory is the default, an in-process MRU cache.
	BackendMemory Backend = iota
	// BackendRedis shares cache entries across processes via Redis.
	BackendRedis
)

type cacheEntry[TK, TV any] struct {
	data    TV
	dllNode *node[TK]
}

type memCache[TK comparable, TV any] struct {
	lookup map[TK]*cacheEntry[TK, TV]
	mru    *mru[TK, TV]
}

// NewMemoryCache creates a new in-process MRU cache with the given capacity bounds.
func NewMemoryCache[TK comparable, TV any](minCapacity, maxCapacity int) Cache[TK, TV] {
	c := memCache[TK, TV]{
		lookup: make(map[TK]*cacheEntry[TK, TV], maxCapacity),
	}
	c.mru = newMru(&c, minCapacity, maxCapacity)
	return &c
}

func (c *memCache[TK, TV]) Clear() {
	c.lookup = make(map[TK]*cacheEntry[TK, TV], c.mru.maxCapacity)
	c.mru = newMru(c, c.mru.minCapacity, c.mru.maxCapacity)
}

func (c *memCache[TK, TV]) Set(items []Pair[TK, TV]) {
	for i := range items {
		if v, ok := c.lookup[items[i].Key]; ok {
			v.data = items[i].Value
			c.mru.remove(v.dllNode)
			v.dllNode = c.mru.add(items[i].Key)
			continue
		}
		n := c.mru.add(items[i].Key)
		c.lookup[items[i].Key] = &cacheEntry[TK, TV]{
			data:    items[i].Value,
			dllNode: n,
		}
	}
	c.Evict()
}

func (c *memCache[TK, TV]) Get(keys []TK) []TV {
	r := make([]TV, len(keys))
	for i := range keys {
		if v, ok := c.lookup[keys[i]]; ok {
			c.mru.remove(v.dllNode)
			v.dllNode = c.mru.add(keys[i])
			r[i] = v.data
		}
	}
	return r
}

func (c *memCache[TK, TV]) Delete(keys []TK) {
	for i := range keys {
		if v, ok := c.lookup[keys[i]]; ok {
			c.mru.remove(v.dllNode)
			v.dllNode = nil
			delete(c.lookup, keys[i])
		}
	}
}

func (c *memCache[TK, TV]) Count() int {
	return len(c.lookup)
}

func (c *memCache[TK, TV]) IsFull() bool {
	return c.mru.isFull()
}

func (c *memCache[TK, TV]) Evict() {
	c.mru.evict()
}
