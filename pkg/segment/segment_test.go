package segment

import (
	"context"
	"sync"
	"testing"

	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/metastore"
	"github.com/goran-ethernal/chain-dna/pkg/record"
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

func mkBlock(number uint64, addr, key0 byte) *record.Block {
	c := cursor.New(number, []byte{byte(number)})
	return &record.Block{
		Cursor: c,
		Header: record.Header{Cursor: c, ParentHash: []byte{byte(number - 1)}},
		Events: []record.Event{
			{Cursor: c, FromAddress: []byte{addr}, Keys: [][]byte{{key0}}},
		},
	}
}

func TestAppendDoesNotFlushBeforeBoundary(t *testing.T) {
	blobs := newMemBlobs()
	b := New(blobs, noopMeta{}, Config{SegmentSize: 4}, logger.NewNopLogger())
	for i := uint64(0); i < 3; i++ {
		flushed, err := b.Append(context.Background(), mkBlock(i, 0xAA, 0x01))
		require.NoError(t, err)
		require.Nil(t, flushed)
	}
}

func TestAppendFlushesAtBoundary(t *testing.T) {
	blobs := newMemBlobs()
	b := New(blobs, noopMeta{}, Config{SegmentSize: 4}, logger.NewNopLogger())

	var flushed *Flushed
	for i := uint64(0); i < 4; i++ {
		f, err := b.Append(context.Background(), mkBlock(i, 0xAA, byte(i)))
		require.NoError(t, err)
		if f != nil {
			flushed = f
		}
	}
	require.NotNil(t, flushed)
	require.Equal(t, uint64(0), flushed.FirstBlockNumber)
	require.Equal(t, uint32(4), flushed.Size)

	headerData, err := blobs.Get(context.Background(), BlobName(record.EntityHeader, 0))
	require.NoError(t, err)
	headers, err := DecodeHeaders(headerData)
	require.NoError(t, err)
	require.Len(t, headers, 4)

	indexData, err := blobs.Get(context.Background(), IndexBlobName(0))
	require.NoError(t, err)
	idx, err := DecodeIndex(indexData)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 2, 3}, idx.ByAddress.Lookup([]byte{0xAA}))
	require.Equal(t, []uint32{2}, idx.ByKey0.Lookup([]byte{0x02}))
}

func TestAppendOutOfOrderRejected(t *testing.T) {
	blobs := newMemBlobs()
	b := New(blobs, noopMeta{}, Config{SegmentSize: 4}, logger.NewNopLogger())
	_, err := b.Append(context.Background(), mkBlock(1, 0xAA, 0x01))
	require.Error(t, err)
}

func TestResumeAtStartBlock(t *testing.T) {
	blobs := newMemBlobs()
	b := New(blobs, noopMeta{}, Config{SegmentSize: 2, StartBlock: 10}, logger.NewNopLogger())
	_, err := b.Append(context.Background(), mkBlock(10, 0xAA, 0x01))
	require.NoError(t, err)
	flushed, err := b.Append(context.Background(), mkBlock(11, 0xAA, 0x01))
	require.NoError(t, err)
	require.NotNil(t, flushed)
	require.Equal(t, uint64(10), flushed.FirstBlockNumber)
}
