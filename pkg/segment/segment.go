// Package segment implements the segment builder and its embedded bitmap
// index builder: finalized blocks accumulate into fixed-size runs, and
// each run is flushed as a set of immutable, deterministically-named blobs
// (one per entity column, plus one index blob) once it crosses the
// configured segment size.
package segment

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/internal/metrics"
	"github.com/goran-ethernal/chain-dna/pkg/bitmapindex"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	"github.com/goran-ethernal/chain-dna/pkg/metastore"
	"github.com/goran-ethernal/chain-dna/pkg/record"
)

// DefaultSize is the number of blocks accumulated before a segment is
// flushed, when no explicit size is configured.
const DefaultSize uint32 = 1024

// Index is a segment's secondary index: two bitmap maps, each from a key
// to the set of block-offsets-within-the-segment that produced it.
type Index struct {
	ByAddress *bitmapindex.Index
	ByKey0    *bitmapindex.Index
}

// newIndex returns an empty Index.
func newIndex() *Index {
	return &Index{ByAddress: bitmapindex.New(), ByKey0: bitmapindex.New()}
}

// Flushed describes one completed segment flush, handed to the caller so
// it can drive both blob naming (for diagnostics) and SegmentGroupBuilder
// (which needs the just-built Index to fold into its group-level merge).
type Flushed struct {
	FirstBlockNumber uint64
	Size             uint32
	Index            *Index
}

// BlobName returns the deterministic name under which entity's column for
// this segment is stored: "segment/{entity}/{first_block:012d}".
func BlobName(entity record.EntityTag, firstBlock uint64) string {
	return fmt.Sprintf("segment/%s/%012d", entity, firstBlock)
}

// IndexBlobName returns the deterministic name for a segment's index blob.
func IndexBlobName(firstBlock uint64) string {
	return fmt.Sprintf("segment/index/%012d", firstBlock)
}

// Builder is an append-only, per-entity-tag buffer that freezes and
// flushes itself every segmentSize blocks.
type Builder struct {
	blobs       blobstore.BlobStore
	meta        metastore.MetaStore
	segmentSize uint32
	log         *logger.Logger

	mu           sync.Mutex
	firstBlock   uint64
	nextExpected uint64
	started      bool

	headers      []record.Header
	transactions []record.Transaction
	receipts     []record.Receipt
	events       []record.Event
	messages     []record.Message
	index        *Index
}

// Config tunes a Builder.
type Config struct {
	// SegmentSize is the number of blocks accumulated before a flush.
	// Default DefaultSize.
	SegmentSize uint32
	// StartBlock is the first block number this builder should expect,
	// i.e. the resume point after a restart (one past the last segment
	// flushed, or 0 for a fresh start).
	StartBlock uint64
}

// New builds a Builder resuming at cfg.StartBlock.
func New(blobs blobstore.BlobStore, meta metastore.MetaStore, cfg Config, log *logger.Logger) *Builder {
	size := cfg.SegmentSize
	if size == 0 {
		size = DefaultSize
	}
	return &Builder{
		blobs:        blobs,
		meta:         meta,
		segmentSize:  size,
		log:          log.WithComponent(common.ComponentSegmentBuilder),
		firstBlock:   cfg.StartBlock,
		nextExpected: cfg.StartBlock,
		index:        newIndex(),
	}
}

// Append adds block to the current segment window. block.Cursor.Number
// must equal the next expected block number exactly — out-of-order or
// skipped blocks are a programmer error in the caller (the component
// feeding this builder finalized blocks one at a time, in order) and
// Append returns an error rather than silently accepting a gap.
//
// When the appended block crosses the segment_size boundary, Append
// freezes the buffers, writes each entity column and the segment index as
// separate blobs, checkpoints the flush, resets the buffers for the next
// window, and returns a non-nil *Flushed describing what was written.
func (b *Builder) Append(ctx context.Context, block *record.Block) (*Flushed, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if block.Cursor.Number != b.nextExpected {
		return nil, fmt.Errorf("segment: out-of-order append: expected block %d, got %d", b.nextExpected, block.Cursor.Number)
	}

	offset := uint32(block.Cursor.Number - b.firstBlock)
	b.headers = append(b.headers, block.Header)
	b.transactions = append(b.transactions, block.Transactions...)
	b.receipts = append(b.receipts, block.Receipts...)
	b.messages = append(b.messages, block.Messages...)
	for _, e := range block.Events {
		b.events = append(b.events, e)
		if len(e.FromAddress) > 0 {
			b.index.ByAddress.Add(e.FromAddress, offset)
		}
		if k0 := e.Key0(); len(k0) > 0 {
			b.index.ByKey0.Add(k0, offset)
		}
	}
	b.nextExpected++

	if (offset + 1) != b.segmentSize {
		return nil, nil
	}
	return b.flush(ctx)
}

// flush must be called with b.mu held.
func (b *Builder) flush(ctx context.Context) (*Flushed, error) {
	columns := map[record.EntityTag]interface{}{
		record.EntityHeader:      b.headers,
		record.EntityTransaction: b.transactions,
		record.EntityReceipt:     b.receipts,
		record.EntityEvent:       b.events,
		record.EntityMessage:     b.messages,
	}
	for _, entity := range record.AllEntities {
		data, err := encodeGob(columns[entity])
		if err != nil {
			return nil, fmt.Errorf("segment: encoding %s column: %w", entity, err)
		}
		if err := b.blobs.Put(ctx, BlobName(entity, b.firstBlock), data); err != nil {
			return nil, fmt.Errorf("segment: writing %s blob: %w", entity, err)
		}
		metrics.SegmentsFlushedInc(string(entity))
	}

	indexData, err := encodeIndex(b.index)
	if err != nil {
		return nil, fmt.Errorf("segment: encoding index: %w", err)
	}
	if err := b.blobs.Put(ctx, IndexBlobName(b.firstBlock), indexData); err != nil {
		return nil, fmt.Errorf("segment: writing index blob: %w", err)
	}

	if err := b.meta.SaveLastSegment(ctx, b.firstBlock); err != nil {
		b.log.Warnw("failed to checkpoint segment flush", "first_block", b.firstBlock, "error", err)
	}

	flushed := &Flushed{FirstBlockNumber: b.firstBlock, Size: b.segmentSize, Index: b.index}
	b.log.Infow("segment flushed", "first_block", b.firstBlock, "size", b.segmentSize,
		"headers", len(b.headers), "transactions", len(b.transactions),
		"receipts", len(b.receipts), "events", len(b.events), "messages", len(b.messages))

	b.firstBlock += uint64(b.segmentSize)
	b.headers = nil
	b.transactions = nil
	b.receipts = nil
	b.events = nil
	b.messages = nil
	b.index = newIndex()

	return flushed, nil
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// gobSegmentIndex is the on-the-wire shape for an Index: both fields
// implement encoding.BinaryMarshaler, which gob honors directly, but we
// wrap them so a single blob carries both bitmaps.
type gobSegmentIndex struct {
	ByAddress *bitmapindex.Index
	ByKey0    *bitmapindex.Index
}

func encodeIndex(idx *Index) ([]byte, error) {
	return encodeGob(gobSegmentIndex{ByAddress: idx.ByAddress, ByKey0: idx.ByKey0})
}

// DecodeIndex reverses encodeIndex, for StorageReader and the group
// builder reading a previously-flushed segment index blob back.
func DecodeIndex(data []byte) (*Index, error) {
	g := gobSegmentIndex{ByAddress: bitmapindex.New(), ByKey0: bitmapindex.New()}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, err
	}
	return &Index{ByAddress: g.ByAddress, ByKey0: g.ByKey0}, nil
}

// DecodeHeaders, DecodeTransactions, DecodeReceipts, DecodeEvents and
// DecodeMessages reverse the per-entity gob encoding flush wrote, for
// StorageReader reassembling a record.Block from segment blobs.

func DecodeHeaders(data []byte) ([]record.Header, error) {
	var v []record.Header
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

func DecodeTransactions(data []byte) ([]record.Transaction, error) {
	var v []record.Transaction
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

func DecodeReceipts(data []byte) ([]record.Receipt, error) {
	var v []record.Receipt
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

func DecodeEvents(data []byte) ([]record.Event, error) {
	var v []record.Event
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

func DecodeMessages(data []byte) ([]record.Message, error) {
	var v []record.Message
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}
