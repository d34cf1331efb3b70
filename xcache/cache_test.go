package xcache

import "testing"

func TestMemoryCacheSetGetDelete(t *testing.T) {
	c := NewMemoryCache[string, []byte](2, 8)
	c.Set([]Pair[string, []byte]{{Key: "a", Value: []byte("1")}, {Key: "b", Value: []byte("2")}})

	got := c.Get([]string{"a", "b", "missing"})
	if string(got[0]) != "1" || string(got[1]) != "2" || got[2] != nil {
		t.Fatalf("Get: unexpected result %v", got)
	}
	if c.Count() != 2 {
		t.Fatalf("Count: want 2, got %d", c.Count())
	}

	c.Delete([]string{"a"})
	if c.Count() != 1 {
		t.Fatalf("Count after Delete: want 1, got %d", c.Count())
	}
	got = c.Get([]string{"a"})
	if got[0] != nil {
		t.Fatalf("deleted key must not be found")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache[string, []byte](2, 3)
	c.Set([]Pair[string, []byte]{{Key: "a", Value: []byte("1")}})
	c.Set([]Pair[string, []byte]{{Key: "b", Value: []byte("2")}})
	// Touch a so it becomes most recently used, ahead of b.
	c.Get([]string{"a"})
	c.Set([]Pair[string, []byte]{{Key: "c", Value: []byte("3")}})

	if !c.IsFull() {
		t.Fatalf("cache at maxCapacity must report IsFull")
	}
	got := c.Get([]string{"b"})
	if got[0] != nil {
		t.Fatalf("least recently used entry b must have been evicted, found %q", got[0])
	}
	got = c.Get([]string{"a"})
	if got[0] == nil {
		t.Fatalf("recently touched entry a must survive eviction")
	}
}

func TestMemoryCacheClearResetsState(t *testing.T) {
	c := NewMemoryCache[string, []byte](1, 4)
	c.Set([]Pair[string, []byte]{{Key: "a", Value: []byte("1")}})
	c.Clear()
	if c.Count() != 0 {
		t.Fatalf("Count after Clear: want 0, got %d", c.Count())
	}
	got := c.Get([]string{"a"})
	if got[0] != nil {
		t.Fatalf("cleared cache must not retain entries")
	}
}

func TestNewByteCacheDefaultsToMemoryBackend(t *testing.T) {
	c := NewByteCache(BackendMemory, "", "", 1, 4)
	c.Set([]Pair[string, []byte]{{Key: "a", Value: []byte("1")}})
	got := c.Get([]string{"a"})
	if string(got[0]) != "1" {
		t.Fatalf("Get: want %q, got %q", "1", got[0])
	}
}

func TestNewByteCacheFallsBackToMemoryWithoutRedisAddr(t *testing.T) {
	// BackendRedis with an empty address has nothing to dial, so it must not
	// panic or block; it should behave like the memory backend.
	c := NewByteCache(BackendRedis, "", "", 1, 4)
	c.Set([]Pair[string, []byte]{{Key: "a", Value: []byte("1")}})
	got := c.Get([]string{"a"})
	if string(got[0]) != "1" {
		t.Fatalf("Get: want %q, got %q", "1", got[0])
	}
}
