// Package storagereader resolves a cursor or block number to canonical
// identity and full block data, choosing between the durable BlobStore
// (for blocks already sealed into a flushed segment) and the chain
// tracker's in-memory accepted ring (for everything more recent).
package storagereader

import (
	"context"
	"errors"
	"fmt"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/ingestmsg"
	"github.com/goran-ethernal/chain-dna/pkg/record"
	"github.com/goran-ethernal/chain-dna/pkg/segment"
	"github.com/goran-ethernal/chain-dna/pkg/segmentgroup"
)

// Tracker is the subset of chaintracker.Tracker this reader needs: the
// current finality pointers and a lookup into the in-memory accepted ring.
type Tracker interface {
	Current() ingestmsg.FinalityState
	BlockAt(number uint64) (*record.Block, bool)
}

// Config tunes a Reader's understanding of artifact layout. Both sizes
// must match the SegmentBuilder/SegmentGroupBuilder that produced the
// artifacts this reader is pointed at.
type Config struct {
	SegmentSize uint32
	GroupSize   uint32
}

// Reader serves canonical block identity and block data lookups.
type Reader struct {
	blobs   blobstore.BlobStore
	tracker Tracker
	cfg     Config
	log     *logger.Logger
}

// New builds a Reader over blobs (segment/group artifacts) and tracker
// (the live accepted ring and finality pointers).
func New(blobs blobstore.BlobStore, tracker Tracker, cfg Config, log *logger.Logger) *Reader {
	return &Reader{blobs: blobs, tracker: tracker, cfg: cfg, log: log.WithComponent(common.ComponentStorageReader)}
}

// HighestFinalizedBlock returns the tracker's current finalized cursor, or
// false if no block has been finalized yet.
func (r *Reader) HighestFinalizedBlock() (cursor.Cursor, bool) {
	fs := r.tracker.Current()
	return fs.FinalizedCursor, fs.HasFinalized
}

// HighestAcceptedBlock returns the tracker's current accepted cursor, or
// false if no block has been accepted yet.
func (r *Reader) HighestAcceptedBlock() (cursor.Cursor, bool) {
	fs := r.tracker.Current()
	return fs.AcceptedCursor, fs.HasAccepted
}

// CanonicalBlockID resolves a block number to its canonical cursor: a
// finalized block that falls in an already-flushed segment is resolved
// from BlobStore; everything else falls back to the tracker's in-memory
// accepted ring.
func (r *Reader) CanonicalBlockID(ctx context.Context, number uint64) (cursor.Cursor, bool, error) {
	fs := r.tracker.Current()
	if fs.HasFinalized && number <= fs.FinalizedCursor.Number {
		block, found, err := r.blockFromSegment(ctx, number)
		if err != nil {
			return cursor.Cursor{}, false, err
		}
		if found {
			return block.Cursor, true, nil
		}
	}
	if block, ok := r.tracker.BlockAt(number); ok {
		return block.Cursor, true, nil
	}
	return cursor.Cursor{}, false, nil
}

// BlockRecord resolves the full record.Block for c. If c carries a hash
// (is not open), the resolved block's cursor must match exactly; a
// mismatch (c names a cursor that is no longer canonical) is reported as
// not-found rather than an error, since the caller asked for a specific,
// possibly-reorged-away block identity.
func (r *Reader) BlockRecord(ctx context.Context, c cursor.Cursor) (*record.Block, bool, error) {
	fs := r.tracker.Current()
	if fs.HasFinalized && c.Number <= fs.FinalizedCursor.Number {
		block, found, err := r.blockFromSegment(ctx, c.Number)
		if err != nil {
			return nil, false, err
		}
		if found {
			if !c.IsOpen() && !block.Cursor.Equal(c) {
				return nil, false, nil
			}
			return block, true, nil
		}
	}
	if block, ok := r.tracker.BlockAt(c.Number); ok {
		if !c.IsOpen() && !block.Cursor.Equal(c) {
			return nil, false, nil
		}
		return block, true, nil
	}
	return nil, false, nil
}

// SegmentIndex returns the secondary index for the segment starting at
// firstBlock, or blobstore.ErrNotFound if that segment has not been
// flushed yet.
func (r *Reader) SegmentIndex(ctx context.Context, firstBlock uint64) (*segment.Index, error) {
	data, err := r.blobs.Get(ctx, segment.IndexBlobName(firstBlock))
	if err != nil {
		return nil, err
	}
	return segment.DecodeIndex(data)
}

// GroupIndex returns the merged secondary index for the segment group
// starting at firstBlock (keys unioned across member segments, positions
// expressed as absolute offsets within the group), or blobstore.ErrNotFound
// if that group has not been flushed yet.
func (r *Reader) GroupIndex(ctx context.Context, firstBlock uint64) (*segment.Index, error) {
	data, err := r.blobs.Get(ctx, segmentgroup.BlobName(firstBlock))
	if err != nil {
		return nil, err
	}
	manifest, err := segmentgroup.DecodeManifest(data)
	if err != nil {
		return nil, err
	}
	return &segment.Index{ByAddress: manifest.Index.ByAddress, ByKey0: manifest.Index.ByKey0}, nil
}

// SegmentFirstBlock returns the first block number of the segment that
// number falls in, given the reader's configured segment size.
func (r *Reader) SegmentFirstBlock(number uint64) uint64 {
	size := uint64(r.cfg.SegmentSize)
	return (number / size) * size
}

// GroupFirstBlock returns the first block number of the segment group that
// number falls in, given the reader's configured segment and group sizes.
func (r *Reader) GroupFirstBlock(number uint64) uint64 {
	span := uint64(r.cfg.SegmentSize) * uint64(r.cfg.GroupSize)
	return (number / span) * span
}

// blockFromSegment assembles the full record.Block for number out of the
// flushed segment blobs, or returns found=false if that segment has not
// been flushed yet (number is more recent than the last flush, even
// though it's at or below the finalized cursor — e.g. right after
// finality just advanced, before the segment boundary is crossed).
func (r *Reader) blockFromSegment(ctx context.Context, number uint64) (*record.Block, bool, error) {
	firstBlock := r.SegmentFirstBlock(number)

	headerData, err := r.blobs.Get(ctx, segment.BlobName(record.EntityHeader, firstBlock))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: reading header column %d: %w", firstBlock, err)
	}
	headers, err := segment.DecodeHeaders(headerData)
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: decoding header column %d: %w", firstBlock, err)
	}
	offset := number - firstBlock
	if offset >= uint64(len(headers)) {
		return nil, false, nil
	}
	header := headers[offset]

	txData, err := r.blobs.Get(ctx, segment.BlobName(record.EntityTransaction, firstBlock))
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: reading transaction column %d: %w", firstBlock, err)
	}
	transactions, err := segment.DecodeTransactions(txData)
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: decoding transaction column %d: %w", firstBlock, err)
	}

	receiptData, err := r.blobs.Get(ctx, segment.BlobName(record.EntityReceipt, firstBlock))
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: reading receipt column %d: %w", firstBlock, err)
	}
	receipts, err := segment.DecodeReceipts(receiptData)
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: decoding receipt column %d: %w", firstBlock, err)
	}

	eventData, err := r.blobs.Get(ctx, segment.BlobName(record.EntityEvent, firstBlock))
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: reading event column %d: %w", firstBlock, err)
	}
	events, err := segment.DecodeEvents(eventData)
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: decoding event column %d: %w", firstBlock, err)
	}

	messageData, err := r.blobs.Get(ctx, segment.BlobName(record.EntityMessage, firstBlock))
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: reading message column %d: %w", firstBlock, err)
	}
	messages, err := segment.DecodeMessages(messageData)
	if err != nil {
		return nil, false, fmt.Errorf("storagereader: decoding message column %d: %w", firstBlock, err)
	}

	block := &record.Block{
		Cursor:       header.Cursor,
		Header:       header,
		Transactions: filterByNumber(transactions, number, func(t record.Transaction) cursor.Cursor { return t.Cursor }),
		Receipts:     filterByNumber(receipts, number, func(r record.Receipt) cursor.Cursor { return r.Cursor }),
		Events:       filterByNumber(events, number, func(e record.Event) cursor.Cursor { return e.Cursor }),
		Messages:     filterByNumber(messages, number, func(m record.Message) cursor.Cursor { return m.Cursor }),
	}
	return block, true, nil
}

// filterByNumber returns the subset of items whose cursor number equals
// number, preserving order. Segment columns interleave every block's
// fragments, so reconstructing a single block's view means filtering by
// its block number.
func filterByNumber[T any](items []T, number uint64, cursorOf func(T) cursor.Cursor) []T {
	var out []T
	for _, item := range items {
		if cursorOf(item).Number == number {
			out = append(out, item)
		}
	}
	return out
}
