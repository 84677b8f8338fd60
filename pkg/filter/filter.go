// Package filter defines the subscriber-facing filtering capability a
// stream applies to each candidate block, and the finality level a
// subscriber chooses.
package filter

import "github.com/goran-ethernal/chain-dna/pkg/cursor"

// DataFinality selects which tier of chain data a subscriber wants to
// receive.
//
// DataFinality_Pending is accepted but, per the decided open question,
// never produces a synthetic pending cursor: Pending subscribers receive
// only Accepted batches in this implementation. The value is kept
// distinct from Accepted so a future implementation can add real pending
// support without an API break.
type DataFinality int

const (
	// DataFinalityFinalized delivers only finalized blocks, batched.
	DataFinalityFinalized DataFinality = iota
	// DataFinalityAccepted delivers finalized blocks batched, then
	// accepted-but-not-yet-finalized blocks one at a time.
	DataFinalityAccepted
	// DataFinalityPending is accepted as a configuration value but behaves
	// identically to DataFinalityAccepted: no synthetic pending cursor is
	// minted.
	DataFinalityPending
)

func (f DataFinality) String() string {
	switch f {
	case DataFinalityFinalized:
		return "finalized"
	case DataFinalityAccepted:
		return "accepted"
	case DataFinalityPending:
		return "pending"
	default:
		return "unknown"
	}
}

// EncodedData is the gob-encoded, filter-selected payload for one block.
type EncodedData struct {
	Cursor cursor.Cursor
	Bytes  []byte
}

// Filter is evaluated once per candidate block by a stream. An
// implementation typically resolves the block's indexed entities (via
// StorageReader) and serializes only the requested subset.
type Filter interface {
	// DataForBlock returns the filtered, encoded data for the block at c,
	// and whether the filter matched anything. A false match with a nil
	// error means the block produced no data under this filter (the
	// caller advances past it without emitting a batch entry).
	DataForBlock(c cursor.Cursor) (data EncodedData, matched bool, err error)
}

// IndexAwareFilter lets a stream skip whole segments without calling
// DataForBlock, by intersecting the segment's bitmap index with the
// filter's address/key set first. A filter that only cares about a fixed
// set of addresses and/or first event keys should implement this so large
// unmatched ranges cost one bitmap lookup per segment instead of one
// DataForBlock call per block.
type IndexAwareFilter interface {
	Filter
	// IndexKeys returns the addresses and first event keys this filter
	// matches on. Both nil means the filter isn't expressible as an
	// index lookup and every block must still be evaluated directly.
	IndexKeys() (addresses [][]byte, keys0 [][]byte)
}

// StreamConfiguration is a subscriber's reconfigurable request state:
// finality level, filter, and batch size. Reconfiguring mid-stream
// preserves the stream's already-resolved finalized/accepted cursors.
type StreamConfiguration struct {
	Finality  DataFinality
	Filter    Filter
	BatchSize uint32
}
