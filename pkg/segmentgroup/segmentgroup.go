// Package segmentgroup accumulates consecutive segment flushes into a
// fixed-size group manifest, merging each member segment's bitmap index
// into a single group-level index keyed by absolute block offset within
// the group.
package segmentgroup

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
	"github.com/goran-ethernal/chain-dna/pkg/segment"
)

// DefaultSize is the number of segments accumulated before a group
// manifest is flushed, when no explicit size is configured.
const DefaultSize uint32 = 16

// ErrSegmentSizeMismatch is returned when a segment handed to Add doesn't
// match the group's configured segment size.
var ErrSegmentSizeMismatch = fmt.Errorf("segmentgroup: segment size does not match configured group segment size")

// Manifest is the on-disk shape of a flushed group blob.
type Manifest struct {
	FirstBlockNumber uint64
	SegmentSize      uint32
	SegmentCount     uint32
	SegmentNames     []uint64
	Index            gobGroupIndex
}

type gobGroupIndex struct {
	ByAddress *bitmapindex.Index
	ByKey0    *bitmapindex.Index
}

// BlobName returns the deterministic name a group manifest is stored
// under: "group/{first_block:012d}".
func BlobName(firstBlock uint64) string {
	return fmt.Sprintf("group/%012d", firstBlock)
}

// Flushed describes one completed group flush.
type Flushed struct {
	FirstBlockNumber uint64
	SegmentCount     uint32
}

// Builder assembles flushed segments into groups.
type Builder struct {
	blobs       blobstore.BlobStore
	meta        metastore.MetaStore
	segmentSize uint32
	groupSize   uint32
	log         *logger.Logger

	mu           sync.Mutex
	firstBlock   uint64
	segmentNames []uint64
	byAddress    *bitmapindex.Index
	byKey0       *bitmapindex.Index
}

// Config tunes a Builder.
type Config struct {
	// SegmentSize must match the SegmentBuilder feeding this group
	// builder; every segment handed to Add is checked against it.
	SegmentSize uint32
	// GroupSize is the number of segments accumulated before a flush.
	// Default DefaultSize.
	GroupSize uint32
	// StartBlock is the first block number of the group currently being
	// assembled (the resume point after a restart).
	StartBlock uint64
}

// New builds a Builder resuming at cfg.StartBlock.
func New(blobs blobstore.BlobStore, meta metastore.MetaStore, cfg Config, log *logger.Logger) *Builder {
	groupSize := cfg.GroupSize
	if groupSize == 0 {
		groupSize = DefaultSize
	}
	return &Builder{
		blobs:       blobs,
		meta:        meta,
		segmentSize: cfg.SegmentSize,
		groupSize:   groupSize,
		log:         log.WithComponent(common.ComponentSegmentGroup),
		firstBlock:  cfg.StartBlock,
		byAddress:   bitmapindex.New(),
		byKey0:      bitmapindex.New(),
	}
}

// Add folds one freshly-flushed segment into the current group. flushed.Size
// must equal the builder's configured segment size or Add returns
// ErrSegmentSizeMismatch without modifying any state — a mismatched
// segment size means the upstream SegmentBuilder was reconfigured mid-run,
// which this core treats as a fatal configuration error rather than
// silently producing a group with uneven members.
//
// When the group crosses group_size segments, Add writes the manifest
// blob, checkpoints the flush, resets the group state, and returns a
// non-nil *Flushed.
func (b *Builder) Add(ctx context.Context, flushed segment.Flushed) (*Flushed, error) {
	if flushed.Size != b.segmentSize {
		return nil, ErrSegmentSizeMismatch
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	offsetInGroup := uint32(len(b.segmentNames)) * b.segmentSize
	mergeShifted(b.byAddress, flushed.Index.ByAddress, offsetInGroup)
	mergeShifted(b.byKey0, flushed.Index.ByKey0, offsetInGroup)
	b.segmentNames = append(b.segmentNames, flushed.FirstBlockNumber)

	if uint32(len(b.segmentNames)) != b.groupSize {
		return nil, nil
	}
	return b.flush(ctx)
}

// mergeShifted folds src's per-position entries into dst, adding shift to
// every position so a per-segment (block-offset-within-segment) index
// becomes a per-group (block-offset-within-group) index.
func mergeShifted(dst, src *bitmapindex.Index, shift uint32) {
	for _, key := range src.Keys() {
		for _, pos := range src.Lookup(key) {
			dst.Add(key, pos+shift)
		}
	}
}

// flush must be called with b.mu held.
func (b *Builder) flush(ctx context.Context) (*Flushed, error) {
	manifest := Manifest{
		FirstBlockNumber: b.firstBlock,
		SegmentSize:      b.segmentSize,
		SegmentCount:     uint32(len(b.segmentNames)),
		SegmentNames:     b.segmentNames,
		Index:            gobGroupIndex{ByAddress: b.byAddress, ByKey0: b.byKey0},
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(manifest); err != nil {
		return nil, fmt.Errorf("segmentgroup: encoding manifest: %w", err)
	}
	if err := b.blobs.Put(ctx, BlobName(b.firstBlock), buf.Bytes()); err != nil {
		return nil, fmt.Errorf("segmentgroup: writing manifest blob: %w", err)
	}
	if err := b.meta.SaveLastGroup(ctx, b.firstBlock); err != nil {
		b.log.Warnw("failed to checkpoint group flush", "first_block", b.firstBlock, "error", err)
	}
	metrics.GroupsFlushedInc()

	flushedGroup := &Flushed{FirstBlockNumber: b.firstBlock, SegmentCount: manifest.SegmentCount}
	b.log.Infow("segment group flushed", "first_block", b.firstBlock, "segment_count", manifest.SegmentCount)

	b.firstBlock += uint64(b.segmentSize) * uint64(b.groupSize)
	b.segmentNames = nil
	b.byAddress = bitmapindex.New()
	b.byKey0 = bitmapindex.New()

	return flushedGroup, nil
}

// DecodeManifest reverses the gob encoding flush wrote, for StorageReader
// reading a previously-flushed group manifest blob back.
func DecodeManifest(data []byte) (*Manifest, error) {
	m := Manifest{Index: gobGroupIndex{ByAddress: bitmapindex.New(), ByKey0: bitmapindex.New()}}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
