package txlog

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	log "log/slog"
	"os"
	"sync"

	"github.com/leventov/xodus/xcache"
)

// recordFraming is length-prefix + payload + CRC32, framing each record
// independently rather than into fixed-size aligned blocks, since log
// records here vary widely in size (small MetaTree entries to large values).
const frameOverhead = 4 + 4 // uint32 length + uint32 crc32

// FileLog is a Log backed by a single append-only file. Appends are synced
// before returning so a completed Append call is durable. Reads are served
// from an xcache read cache first, falling back to direct, block-aligned
// reads through directBlockReader when UseDirectIO is enabled, or ordinary
// ReadAt otherwise.
type FileLog struct {
	mu   sync.Mutex
	path string
	w    *os.File
	r    *os.File
	high Address

	pageCache xcache.Cache[int64, []byte]
	hits      int64
	reads     int64

	direct *directBlockReader
}

// FileLogOptions configures FileLog construction.
type FileLogOptions struct {
	// UseDirectIO reads cold (uncached) records through O_DIRECT-aligned
	// blocks instead of buffered ReadAt. Linux only.
	UseDirectIO bool
	// CacheCapacity bounds the number of records held in the read cache.
	CacheCapacity int
}

// OpenFileLog opens or creates the log file at path.
func OpenFileLog(path string, opts FileLogOptions) (*FileLog, error) {
	w, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("txlog: open %s: %w", path, err)
	}
	r, err := os.Open(path)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("txlog: open %s for read: %w", path, err)
	}
	fi, err := w.Stat()
	if err != nil {
		w.Close()
		r.Close()
		return nil, err
	}

	cap := opts.CacheCapacity
	if cap <= 0 {
		cap = 1024
	}

	fl := &FileLog{
		path:      path,
		w:         w,
		r:         r,
		high:      Address(fi.Size()),
		pageCache: xcache.NewMemoryCache[int64, []byte](cap/4+1, cap),
	}
	if opts.UseDirectIO {
		db, err := newDirectBlockReader(path)
		if err != nil {
			log.Warn("txlog: direct I/O unavailable, falling back to buffered reads", "err", err)
		} else {
			fl.direct = db
		}
	}
	return fl, nil
}

func (l *FileLog) HighAddress() Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high
}

func (l *FileLog) SetHighAddress(addr Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if addr < 0 || addr > l.high {
		return fmt.Errorf("txlog: SetHighAddress(%d) out of range [0,%d]", addr, l.high)
	}
	if err := l.w.Truncate(int64(addr)); err != nil {
		return fmt.Errorf("txlog: truncate to %d: %w", addr, err)
	}
	l.high = addr
	l.pageCache.Clear()
	return nil
}

func (l *FileLog) Append(ctx context.Context, record []byte) (Address, error) {
	if err := ctx.Err(); err != nil {
		return NoAddress, err
	}
	frame := marshalFrame(record)

	l.mu.Lock()
	defer l.mu.Unlock()

	addr := l.high
	if _, err := l.w.WriteAt(frame, int64(addr)); err != nil {
		return NoAddress, fmt.Errorf("txlog: append at %d: %w", addr, err)
	}
	if err := l.w.Sync(); err != nil {
		return NoAddress, fmt.Errorf("txlog: fsync: %w", err)
	}
	l.high += Address(len(frame))
	return addr, nil
}

func (l *FileLog) Read(ctx context.Context, addr Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.reads++
	if got := l.pageCache.Get([]int64{int64(addr)}); got[0] != nil {
		l.hits++
		data := got[0]
		l.mu.Unlock()
		return data, nil
	}
	l.mu.Unlock()

	header := make([]byte, frameOverhead)
	var err error
	if l.direct != nil {
		err = l.direct.readAt(header, int64(addr))
	} else {
		_, err = l.r.ReadAt(header, int64(addr))
	}
	if err != nil {
		return nil, fmt.Errorf("txlog: read frame header at %d: %w", addr, err)
	}
	payloadLen := binary.LittleEndian.Uint32(header[:4])
	buf := make([]byte, frameOverhead+int(payloadLen))
	if l.direct != nil {
		err = l.direct.readAt(buf, int64(addr))
	} else {
		_, err = l.r.ReadAt(buf, int64(addr))
	}
	if err != nil {
		return nil, fmt.Errorf("txlog: read frame at %d: %w", addr, err)
	}
	payload, err := unmarshalFrame(buf)
	if err != nil {
		return nil, fmt.Errorf("txlog: %w at address %d", err, addr)
	}

	l.mu.Lock()
	l.pageCache.Set([]xcache.Pair[int64, []byte]{{Key: int64(addr), Value: payload}})
	l.mu.Unlock()
	return payload, nil
}

func (l *FileLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Truncate(0); err != nil {
		return fmt.Errorf("txlog: clear: %w", err)
	}
	l.high = 0
	l.pageCache.Clear()
	return nil
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if e := l.w.Close(); e != nil {
		err = e
	}
	if e := l.r.Close(); e != nil && err == nil {
		err = e
	}
	if l.direct != nil {
		if e := l.direct.close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (l *FileLog) CacheHitRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reads == 0 {
		return 0
	}
	return float64(l.hits) / float64(l.reads)
}

// marshalFrame prefixes payload with its length and a CRC32 of the payload,
// so a torn or corrupted record is detected when it is read back.
func marshalFrame(payload []byte) []byte {
	frame := make([]byte, frameOverhead+len(payload))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[frameOverhead:], payload)
	checksum := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(frame[4:8], checksum)
	return frame
}

func unmarshalFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameOverhead {
		return nil, fmt.Errorf("frame too small")
	}
	payloadLen := binary.LittleEndian.Uint32(frame[:4])
	checksum := binary.LittleEndian.Uint32(frame[4:8])
	payload := frame[frameOverhead:]
	if uint32(len(payload)) != payloadLen {
		return nil, fmt.Errorf("frame length mismatch")
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return payload, nil
}
