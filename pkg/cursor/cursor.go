// Package cursor defines block identity and ordering for the indexer core.
package cursor

import (
	"encoding/hex"
	"fmt"
)

// Cursor identifies a block by number and hash. A Cursor with an empty Hash
// denotes "any block at this height" and is only ever valid as a
// caller-supplied starting point, never as a resolved, canonical identity.
type Cursor struct {
	Number uint64
	Hash   []byte
}

// New returns a fully-specified cursor.
func New(number uint64, hash []byte) Cursor {
	h := make([]byte, len(hash))
	copy(h, hash)
	return Cursor{Number: number, Hash: h}
}

// AtHeight returns a cursor with no hash component, meaning "any block at
// height number". It must never be treated as a resolved chain identity.
func AtHeight(number uint64) Cursor {
	return Cursor{Number: number}
}

// IsOpen reports whether the cursor carries no hash (an unresolved height-only cursor).
func (c Cursor) IsOpen() bool {
	return len(c.Hash) == 0
}

// Equal reports whether two cursors identify the same block: both the
// number and the hash must match.
func (c Cursor) Equal(other Cursor) bool {
	if c.Number != other.Number {
		return false
	}
	if len(c.Hash) != len(other.Hash) {
		return false
	}
	for i := range c.Hash {
		if c.Hash[i] != other.Hash[i] {
			return false
		}
	}
	return true
}

// Less orders cursors strictly by block number. Hash is not part of the
// ordering: number alone defines the position on the canonical chain.
func (c Cursor) Less(other Cursor) bool {
	return c.Number < other.Number
}

// Next returns the cursor for an open (unresolved) successor height.
func (c Cursor) Next() Cursor {
	return AtHeight(c.Number + 1)
}

// HashHex returns the lowercase hex-encoded hash, or "" if the cursor is open.
func (c Cursor) HashHex() string {
	if c.IsOpen() {
		return ""
	}
	return "0x" + hex.EncodeToString(c.Hash)
}

// String renders the cursor for logs and error messages.
func (c Cursor) String() string {
	if c.IsOpen() {
		return fmt.Sprintf("#%d", c.Number)
	}
	return fmt.Sprintf("#%d(%s)", c.Number, c.HashHex())
}
