// Package segmentpipeline wires the chain tracker's finalized
// notifications into the segment builder and, in turn, the segment group
// builder: it drains one message channel and drives persistence one block
// at a time, in order.
package segmentpipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/ingestmsg"
	"github.com/goran-ethernal/chain-dna/pkg/record"
	"github.com/goran-ethernal/chain-dna/pkg/segment"
	"github.com/goran-ethernal/chain-dna/pkg/segmentgroup"
)

// Tracker is the subset of chaintracker.Tracker this pipeline needs: a
// message feed, a way to resolve a still-held accepted block by number, and
// a way to tell the tracker it no longer needs to retain blocks once
// they're durably flushed.
type Tracker interface {
	Subscribe() (<-chan ingestmsg.Message, func())
	BlockAt(number uint64) (*record.Block, bool)
	Prune(upTo uint64)
}

// Feeder drains finalized notifications and appends the newly-finalized
// blocks, in order, into a SegmentBuilder, folding each resulting flush
// into a SegmentGroupBuilder.
type Feeder struct {
	tracker      Tracker
	segBuilder   *segment.Builder
	groupBuilder *segmentgroup.Builder
	log          *logger.Logger

	mu         sync.Mutex
	nextToFeed uint64
}

// New builds a Feeder starting at startBlock (the next block number this
// pipeline has not yet appended to segBuilder — must agree with segBuilder's
// own configured resume point).
func New(tracker Tracker, segBuilder *segment.Builder, groupBuilder *segmentgroup.Builder, startBlock uint64, log *logger.Logger) *Feeder {
	return &Feeder{
		tracker:      tracker,
		segBuilder:   segBuilder,
		groupBuilder: groupBuilder,
		log:          log.WithComponent(common.ComponentSegmentPipeline),
		nextToFeed:   startBlock,
	}
}

// Run subscribes to tracker's message feed and blocks until ctx is
// cancelled or a feed error occurs (a missing ring entry, or a downstream
// flush failure).
func (f *Feeder) Run(ctx context.Context) error {
	msgCh, unsubscribe := f.tracker.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			if msg.Kind != ingestmsg.Finalized {
				continue
			}
			if err := f.feedUpTo(ctx, msg.Cursor.Number); err != nil {
				return err
			}
		}
	}
}

// feedUpTo appends every block from the pipeline's current frontier through
// finalizedNumber, inclusive, into segBuilder, in order, folding each
// resulting segment flush into groupBuilder and telling the tracker it can
// drop the ring entries once they're safely durable.
func (f *Feeder) feedUpTo(ctx context.Context, finalizedNumber uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.nextToFeed <= finalizedNumber {
		block, ok := f.tracker.BlockAt(f.nextToFeed)
		if !ok {
			return fmt.Errorf("segmentpipeline: block %d finalized but no longer held by the tracker's ring", f.nextToFeed)
		}

		flushed, err := f.segBuilder.Append(ctx, block)
		if err != nil {
			return fmt.Errorf("segmentpipeline: appending block %d: %w", f.nextToFeed, err)
		}
		f.nextToFeed++

		if flushed == nil {
			continue
		}
		if _, err := f.groupBuilder.Add(ctx, *flushed); err != nil {
			return fmt.Errorf("segmentpipeline: folding segment %d into group: %w", flushed.FirstBlockNumber, err)
		}
		f.tracker.Prune(flushed.FirstBlockNumber + uint64(flushed.Size))
	}
	return nil
}
