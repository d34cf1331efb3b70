// Package txlog implements the append-only Log the environment core treats
// as an external collaborator: an addressable byte log with a monotonic
// high-water mark, roll-back-safe truncation, and a cache hit rate the
// caller can report for observability.
package txlog

import "context"

// Address is a byte offset into the log. The first record appended to an
// empty log is at address 0, so 0 is a valid record address; NoAddress (-1)
// denotes "absent".
type Address int64

// NoAddress denotes the absence of a record.
const NoAddress Address = -1

// Log is the contract the environment core depends on. Implementations must
// make Append durable before it returns; the environment relies on that to
// reason about crash consistency.
type Log interface {
	// HighAddress returns one past the last durable byte in the log.
	HighAddress() Address
	// SetHighAddress truncates the log to addr. It is used exclusively for
	// post-commit-failure rollback, never for normal writes.
	SetHighAddress(addr Address) error
	// Append writes record and returns the address it was written at.
	// It must not return until record is durable.
	Append(ctx context.Context, record []byte) (Address, error)
	// Read returns the record written at addr by a prior Append.
	Read(ctx context.Context, addr Address) ([]byte, error)
	// Clear truncates the log to empty.
	Clear() error
	// Close releases any resources the log holds.
	Close() error
	// CacheHitRate reports the fraction of Read calls served without I/O,
	// in [0, 1]. It returns 0 if no reads have occurred yet.
	CacheHitRate() float64
}
