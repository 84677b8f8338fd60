// Package boltblob implements pkg/blobstore.BlobStore over a single bbolt
// file: one bucket, keyed by the blob's deterministic name.
package boltblob

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("blobs")

var _ blobstore.BlobStore = (*Store)(nil)

// Store is a bbolt-backed BlobStore.
type Store struct {
	db  *bolt.DB
	log *logger.Logger
}

// Open opens (creating if necessary) the bbolt file at path.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltblob: opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltblob: creating bucket: %w", err)
	}

	return &Store{db: db, log: log.WithComponent(common.ComponentBlobStore)}, nil
}

// Put implements blobstore.BlobStore. Writing the same name twice with
// identical bytes is a no-op; writing it with different bytes is rejected,
// since segment/group artifacts are named deterministically from their
// content and must never be rewritten.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		existing := b.Get([]byte(name))
		if existing != nil {
			if bytes.Equal(existing, data) {
				return nil
			}
			return fmt.Errorf("boltblob: %s already exists with different content", name)
		}
		// bbolt keeps the byte slice only for the duration of the
		// transaction; Put copies it into the B+tree page.
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return err
	}
	s.log.Debugw("blob written", "name", name, "size", len(data))
	return nil
}

// Get implements blobstore.BlobStore.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(name))
		if v == nil {
			return blobstore.ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List implements blobstore.BlobStore, returning names in lexicographic
// order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Close implements blobstore.BlobStore.
func (s *Store) Close() error {
	return s.db.Close()
}
