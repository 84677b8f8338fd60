package sqlmeta

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/config"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/stretchr/testify/require"
)

func testHash(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "meta.db")}
	cfg.ApplyDefaults()
	s, err := Open(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadCheckpointEmpty(t *testing.T) {
	s := newTestStore(t)
	cp, err := s.LoadCheckpoint(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), cp.FinalizedCursor.Number)
	require.False(t, cp.HasLastSegment)
	require.False(t, cp.HasLastGroup)
}

func TestSaveAndLoadFinality(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	finalized := cursor.New(100, testHash(0xAB))
	accepted := cursor.New(105, testHash(0x01))
	require.NoError(t, s.SaveFinality(ctx, finalized, accepted))

	cp, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, cp.FinalizedCursor.Equal(finalized))
	require.True(t, cp.AcceptedCursor.Equal(accepted))
}

func TestSaveLastSegmentAndGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLastSegment(ctx, 3000))
	require.NoError(t, s.SaveLastGroup(ctx, 1000))

	cp, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, cp.HasLastSegment)
	require.Equal(t, uint64(3000), cp.LastFlushedSegment)
	require.True(t, cp.HasLastGroup)
	require.Equal(t, uint64(1000), cp.LastFlushedGroup)
}

func TestCheckpointSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "meta.db")
	cfg := config.DatabaseConfig{Path: dbPath}
	cfg.ApplyDefaults()

	s1, err := Open(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, s1.SaveFinality(context.Background(), cursor.New(50, testHash(0x1)), cursor.New(52, testHash(0x2))))
	require.NoError(t, s1.Close())

	s2, err := Open(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	defer s2.Close()

	cp, err := s2.LoadCheckpoint(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(50), cp.FinalizedCursor.Number)
	require.Equal(t, uint64(52), cp.AcceptedCursor.Number)
}

func TestOpenCursorRoundTripsAsOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFinality(ctx, cursor.AtHeight(7), cursor.New(9, testHash(0x9))))

	cp, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, cp.FinalizedCursor.IsOpen())
	require.Equal(t, uint64(7), cp.FinalizedCursor.Number)
	require.False(t, cp.AcceptedCursor.IsOpen())
}

type countingObserver struct{ writes int }

func (c *countingObserver) NoteCheckpointWrite() { c.writes++ }

func TestSavesNotifyWriteObserver(t *testing.T) {
	s := newTestStore(t)
	obs := &countingObserver{}
	s.ObserveWrites(obs)

	ctx := context.Background()
	require.NoError(t, s.SaveFinality(ctx, cursor.New(1, testHash(0x1)), cursor.New(2, testHash(0x2))))
	require.NoError(t, s.SaveLastSegment(ctx, 0))
	require.NoError(t, s.SaveLastGroup(ctx, 0))
	require.Equal(t, 3, obs.writes)
}
