// Package metastore defines the capability that persists the small amount
// of mutable process state the core needs across restarts: finality
// checkpoints and segment/group flush progress. Concrete storage
// (internal/storage/sqlmeta) backs this with sqlite.
package metastore

import (
	"context"

	"github.com/goran-ethernal/chain-dna/pkg/cursor"
)

// Names for the checkpoint fields. No code in this module reads these
// constants: MetaStore below is a typed interface rather than a key/value
// store, and internal/storage/sqlmeta names its columns on its own.
const (
	KeyFinalizedCursor = "finalized_cursor"
	KeyAcceptedCursor  = "accepted_cursor"
	KeyLastSegment     = "last_flushed_segment"
	KeyLastGroup       = "last_flushed_group"
)

// Checkpoint is the persisted snapshot of ChainTracker and storage-engine
// progress, read back on process start.
type Checkpoint struct {
	FinalizedCursor    cursor.Cursor
	AcceptedCursor     cursor.Cursor
	LastFlushedSegment uint64
	HasLastSegment     bool
	LastFlushedGroup   uint64
	HasLastGroup       bool
}

// MetaStore persists the checkpoint state described above.
type MetaStore interface {
	// LoadCheckpoint returns the last persisted checkpoint. A MetaStore
	// with no prior writes returns a zero Checkpoint and no error.
	LoadCheckpoint(ctx context.Context) (Checkpoint, error)
	// SaveFinality persists an updated finalized/accepted cursor pair.
	SaveFinality(ctx context.Context, finalized, accepted cursor.Cursor) error
	// SaveLastSegment records the first-block number of the most recently
	// flushed segment.
	SaveLastSegment(ctx context.Context, firstBlock uint64) error
	// SaveLastGroup records the first-block number of the most recently
	// flushed segment group.
	SaveLastGroup(ctx context.Context, firstBlock uint64) error
	// Close releases any underlying resources.
	Close() error
}
