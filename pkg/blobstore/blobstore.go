// Package blobstore defines the capability that persists immutable segment
// and segment-group artifacts. Concrete storage (internal/storage/boltblob)
// backs this with bbolt; the core only depends on this interface.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when name has never been written.
var ErrNotFound = errors.New("blobstore: not found")

// BlobStore stores named, immutable byte blobs. Put is idempotent: writing
// the same name twice with identical bytes must succeed silently; writing
// the same name with different bytes is a caller bug and may return an
// error (segments and groups are named deterministically from their
// content's first block, so this should never legitimately happen).
type BlobStore interface {
	// Put writes data under name. If name already exists with identical
	// bytes, Put returns nil without rewriting.
	Put(ctx context.Context, name string, data []byte) error
	// Get returns the bytes stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns every stored name with the given prefix, in
	// lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Close releases any underlying resources.
	Close() error
}
