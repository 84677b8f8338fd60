package segmentpipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/ingestmsg"
	"github.com/goran-ethernal/chain-dna/pkg/metastore"
	"github.com/goran-ethernal/chain-dna/pkg/record"
	"github.com/goran-ethernal/chain-dna/pkg/segment"
	"github.com/goran-ethernal/chain-dna/pkg/segmentgroup"
	"github.com/stretchr/testify/require"
)

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{data: make(map[string][]byte)} }

func (m *memBlobs) Put(ctx context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = data
	return nil
}
func (m *memBlobs) Get(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[name]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return d, nil
}
func (m *memBlobs) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }
func (m *memBlobs) Close() error                                             { return nil }

type noopMeta struct{}

func (noopMeta) LoadCheckpoint(ctx context.Context) (metastore.Checkpoint, error) {
	return metastore.Checkpoint{}, nil
}
func (noopMeta) SaveFinality(ctx context.Context, finalized, accepted cursor.Cursor) error {
	return nil
}
func (noopMeta) SaveLastSegment(ctx context.Context, firstBlock uint64) error { return nil }
func (noopMeta) SaveLastGroup(ctx context.Context, firstBlock uint64) error   { return nil }
func (noopMeta) Close() error                                                { return nil }

// fakeTracker feeds a fixed set of in-memory blocks and records Prune calls;
// it never actually publishes on the Hub from a background goroutine, since
// tests drive Publish directly to keep timing deterministic.
type fakeTracker struct {
	hub    *ingestmsg.Hub
	blocks map[uint64]*record.Block

	mu      sync.Mutex
	pruned  []uint64
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{hub: ingestmsg.NewHub(), blocks: make(map[uint64]*record.Block)}
}

func (f *fakeTracker) Subscribe() (<-chan ingestmsg.Message, func()) { return f.hub.Subscribe() }

func (f *fakeTracker) BlockAt(number uint64) (*record.Block, bool) {
	b, ok := f.blocks[number]
	return b, ok
}

func (f *fakeTracker) Prune(upTo uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, upTo)
}

func mkBlock(number uint64) *record.Block {
	c := cursor.New(number, []byte{byte(number)})
	return &record.Block{Cursor: c, Header: record.Header{Cursor: c, ParentHash: []byte{byte(number - 1)}}}
}

func TestFeederFeedsSequentiallyAndPrunes(t *testing.T) {
	tracker := newFakeTracker()
	for i := uint64(0); i < 4; i++ {
		tracker.blocks[i] = mkBlock(i)
	}

	blobs := newMemBlobs()
	segBuilder := segment.New(blobs, noopMeta{}, segment.Config{SegmentSize: 4}, logger.NewNopLogger())
	groupBuilder := segmentgroup.New(blobs, noopMeta{}, segmentgroup.Config{SegmentSize: 4, GroupSize: 1}, logger.NewNopLogger())
	feeder := New(tracker, segBuilder, groupBuilder, 0, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- feeder.Run(ctx) }()

	// Give Run a moment to subscribe before publishing.
	time.Sleep(10 * time.Millisecond)
	tracker.hub.Publish(ingestmsg.Message{Kind: ingestmsg.Finalized, Cursor: cursor.New(3, []byte{3})})

	require.Eventually(t, func() bool {
		tracker.mu.Lock()
		defer tracker.mu.Unlock()
		return len(tracker.pruned) == 1
	}, time.Second, 5*time.Millisecond)

	tracker.mu.Lock()
	require.Equal(t, []uint64{4}, tracker.pruned)
	tracker.mu.Unlock()

	_, err := blobs.Get(ctx, segment.BlobName(record.EntityHeader, 0))
	require.NoError(t, err)
	_, err = blobs.Get(ctx, segmentgroup.BlobName(0))
	require.NoError(t, err)

	cancel()
	err = <-done
	require.ErrorIs(t, err, context.Canceled)
}

func TestFeederIgnoresNonFinalizedMessages(t *testing.T) {
	tracker := newFakeTracker()
	tracker.blocks[0] = mkBlock(0)

	blobs := newMemBlobs()
	segBuilder := segment.New(blobs, noopMeta{}, segment.Config{SegmentSize: 4}, logger.NewNopLogger())
	groupBuilder := segmentgroup.New(blobs, noopMeta{}, segmentgroup.Config{SegmentSize: 4, GroupSize: 1}, logger.NewNopLogger())
	feeder := New(tracker, segBuilder, groupBuilder, 0, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- feeder.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	tracker.hub.Publish(ingestmsg.Message{Kind: ingestmsg.Accepted, Cursor: cursor.New(0, []byte{0})})
	time.Sleep(10 * time.Millisecond)

	tracker.mu.Lock()
	require.Empty(t, tracker.pruned)
	tracker.mu.Unlock()

	cancel()
	<-done
}

func TestFeederErrorsWhenBlockMissingFromRing(t *testing.T) {
	tracker := newFakeTracker()
	// Block 0 deliberately absent.

	blobs := newMemBlobs()
	segBuilder := segment.New(blobs, noopMeta{}, segment.Config{SegmentSize: 4}, logger.NewNopLogger())
	groupBuilder := segmentgroup.New(blobs, noopMeta{}, segmentgroup.Config{SegmentSize: 4, GroupSize: 1}, logger.NewNopLogger())
	feeder := New(tracker, segBuilder, groupBuilder, 0, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- feeder.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	tracker.hub.Publish(ingestmsg.Message{Kind: ingestmsg.Finalized, Cursor: cursor.New(0, []byte{0})})

	err := <-done
	require.Error(t, err)
}
