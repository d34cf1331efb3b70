package txlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memRecord struct {
	addr Address
	data []byte
}

// MemLog is an in-memory Log, used by tests and by callers that don't need
// durability across process restarts.
type MemLog struct {
	mu      sync.Mutex
	records []memRecord
	high    Address
	hits    int64
	reads   int64
}

// NewMemLog returns an empty in-memory log.
func NewMemLog() *MemLog {
	return &MemLog{}
}

func (l *MemLog) HighAddress() Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high
}

func (l *MemLog) SetHighAddress(addr Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if addr < 0 || addr > l.high {
		return fmt.Errorf("txlog: SetHighAddress(%d) out of range [0,%d]", addr, l.high)
	}
	i := sort.Search(len(l.records), func(i int) bool { return l.records[i].addr >= addr })
	l.records = l.records[:i]
	l.high = addr
	return nil
}

func (l *MemLog) Append(ctx context.Context, record []byte) (Address, error) {
	if err := ctx.Err(); err != nil {
		return NoAddress, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	addr := l.high
	cp := make([]byte, len(record))
	copy(cp, record)
	l.records = append(l.records, memRecord{addr: addr, data: cp})
	l.high += Address(len(record))
	return addr, nil
}

func (l *MemLog) Read(ctx context.Context, addr Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	i := sort.Search(len(l.records), func(i int) bool { return l.records[i].addr >= addr })
	if i < len(l.records) && l.records[i].addr == addr {
		l.hits++
		return l.records[i].data, nil
	}
	return nil, fmt.Errorf("txlog: no record at address %d", addr)
}

func (l *MemLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.high = 0
	return nil
}

func (l *MemLog) Close() error {
	return nil
}

func (l *MemLog) CacheHitRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reads == 0 {
		return 0
	}
	return float64(l.hits) / float64(l.reads)
}
