package boltblob

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "blobs.db"), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "segment/header/000000000000", []byte("hello")))
	got, err := s.Get(ctx, "segment/header/000000000000")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestPutIdempotentOnIdenticalBytes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
}

func TestPutRejectsMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("v1")))
	err := s.Put(ctx, "k", []byte("v2"))
	require.Error(t, err)
}

func TestListPrefixSorted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	names := []string{
		"segment/header/000000002000",
		"segment/header/000000000000",
		"segment/header/000000001000",
		"segment/event/000000000000",
	}
	for _, n := range names {
		require.NoError(t, s.Put(ctx, n, []byte(n)))
	}

	got, err := s.List(ctx, "segment/header/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"segment/header/000000000000",
		"segment/header/000000001000",
		"segment/header/000000002000",
	}, got)
}
