package segmentgroup

import (
	"context"
	"sync"
	"testing"

	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/bitmapindex"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/metastore"
	"github.com/goran-ethernal/chain-dna/pkg/segment"
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

func mkFlushed(firstBlock uint64, size uint32, addrAtOffset uint32, addr byte) segment.Flushed {
	idx := &segment.Index{ByAddress: bitmapindex.New(), ByKey0: bitmapindex.New()}
	idx.ByAddress.Add([]byte{addr}, addrAtOffset)
	return segment.Flushed{FirstBlockNumber: firstBlock, Size: size, Index: idx}
}

func TestAddAccumulatesUntilGroupSize(t *testing.T) {
	blobs := newMemBlobs()
	b := New(blobs, noopMeta{}, Config{SegmentSize: 4, GroupSize: 2}, logger.NewNopLogger())

	f, err := b.Add(context.Background(), mkFlushed(0, 4, 1, 0xAA))
	require.NoError(t, err)
	require.Nil(t, f)

	f, err = b.Add(context.Background(), mkFlushed(4, 4, 2, 0xAA))
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, uint64(0), f.FirstBlockNumber)
	require.Equal(t, uint32(2), f.SegmentCount)

	data, err := blobs.Get(context.Background(), BlobName(0))
	require.NoError(t, err)
	manifest, err := DecodeManifest(data)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 4}, manifest.SegmentNames)
	// Second segment's offset-2 event is remapped to group offset 4+2=6.
	require.Equal(t, []uint32{1, 6}, manifest.Index.ByAddress.Lookup([]byte{0xAA}))
}

func TestAddRejectsSizeMismatch(t *testing.T) {
	blobs := newMemBlobs()
	b := New(blobs, noopMeta{}, Config{SegmentSize: 4, GroupSize: 2}, logger.NewNopLogger())
	_, err := b.Add(context.Background(), mkFlushed(0, 3, 0, 0xAA))
	require.ErrorIs(t, err, ErrSegmentSizeMismatch)
}

func TestResumeAtStartBlock(t *testing.T) {
	blobs := newMemBlobs()
	b := New(blobs, noopMeta{}, Config{SegmentSize: 4, GroupSize: 1, StartBlock: 40}, logger.NewNopLogger())
	f, err := b.Add(context.Background(), mkFlushed(40, 4, 0, 0xAA))
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, uint64(40), f.FirstBlockNumber)
}
