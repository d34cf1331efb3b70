package xodus

import (
	"time"

	"github.com/google/uuid"
)

// UUID is a thin wrapper over github.com/google/uuid.UUID, used for Transaction
// identifiers. (xtree tags oversized values with github.com/google/uuid
// directly, since it cannot import this package.)
type UUID uuid.UUID

// NewUUID returns a new randomly generated UUID. It makes up to 10 attempts, sleeping 1ms after
// each failure, and panics only if all attempts fail (which should never happen under normal conditions).
func NewUUID() UUID {
	// In the case of generating new UUID errored, we just need to retry because
	// generating UUID is a must.
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return UUID(id)
		}
		// Sleep 1 millisecond then retry to generate new UUID.
		time.Sleep(time.Duration(1 * time.Millisecond))
	}
	// Panic if still can't generate UUID after 10 attempts. Should never happen but in case.
	panic(err)
}

// String returns the canonical string representation of the UUID, used by
// the stuck transaction monitor when logging a transaction's identity.
func (id UUID) String() string {
	return uuid.UUID(id).String()
}
