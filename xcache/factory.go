package xcache

import "time"

// NewByteCache constructs the Cache[string, []byte] used by the bindings
// interner and the GC utilization profile, selecting backend at construction
// time rather than through a package-level global factory.
func NewByteCache(backend Backend, redisAddr, redisPrefix string, minCapacity, maxCapacity int) Cache[string, []byte] {
	if backend == BackendRedis && redisAddr != "" {
		return NewRedisCache(redisAddr, redisPrefix, 30*time.Minute)
	}
	return NewMemoryCache[string, []byte](minCapacity, maxCapacity)
}
