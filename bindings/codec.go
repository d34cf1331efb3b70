// Package bindings implements the string ↔ byte-iterable binding surface the
// environment core hands out to callers: UTF-8 encoding of store names and
// keys with a terminating zero byte, plus pluggable interning strategies
// selected explicitly at construction time.
package bindings

import (
	"fmt"
)

// Codec encodes and decodes the string binding used for store names and
// string-typed keys: UTF-8 bytes terminated by a single zero byte.
type Codec struct {
	interner Interner
}

// NewCodec constructs a Codec with the given interning strategy. Passing
// InternerNone disables interning; there is no global default to fall back to.
func NewCodec(kind InternerKind, cache ByteCache) *Codec {
	return &Codec{interner: newInterner(kind, cache)}
}

// Encode returns the UTF-8 bytes of s terminated by 0x00.
func (c *Codec) Encode(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	b[len(s)] = 0
	return b
}

// Decode reverses Encode, interning the result if a strategy is configured.
// It returns an error if b does not end in the terminating zero byte.
func (c *Codec) Decode(b []byte) (string, error) {
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", fmt.Errorf("bindings: malformed string binding, missing terminator")
	}
	s := string(b[:len(b)-1])
	if c.interner != nil {
		s = c.interner.Intern(s)
	}
	return s, nil
}
