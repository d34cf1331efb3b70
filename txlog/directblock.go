package txlog

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
)

// directBlockReader serves cold FileLog reads through O_DIRECT, block-
// aligned I/O, bypassing the page cache for records the xcache read cache
// has already evicted. Adapted from the teacher's direct-I/O file wrapper,
// generalized to serve arbitrary byte ranges rather than fixed-size blocks.
type directBlockReader struct {
	file *os.File
}

func newDirectBlockReader(path string) (*directBlockReader, error) {
	f, err := directio.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &directBlockReader{file: f}, nil
}

// readAt fills out with the bytes at [offset, offset+len(out)) by reading
// whichever aligned blocks cover that range and copying the overlap.
func (d *directBlockReader) readAt(out []byte, offset int64) error {
	blockSize := directio.BlockSize
	alignedStart := (offset / int64(blockSize)) * int64(blockSize)
	skip := int(offset - alignedStart)
	need := skip + len(out)
	blocks := (need + blockSize - 1) / blockSize

	block := directio.AlignedBlock(blockSize * blocks)
	n, err := d.file.ReadAt(block, alignedStart)
	if err != nil && n < skip+len(out) {
		return fmt.Errorf("txlog: direct read at %d: %w", offset, err)
	}
	copy(out, block[skip:skip+len(out)])
	return nil
}

func (d *directBlockReader) close() error {
	return d.file.Close()
}
