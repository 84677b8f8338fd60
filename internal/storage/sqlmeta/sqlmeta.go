// Package sqlmeta implements pkg/metastore.MetaStore over sqlite: a table
// with exactly one row, mapped through meddler-tagged structs, backed by
// internal/db's SQLite connection helper and sql-migrate migrations.
package sqlmeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	indexercommon "github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/db"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/config"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/metastore"
	"github.com/russross/meddler"
)

var _ metastore.MetaStore = (*Store)(nil)

// checkpointRow is the single checkpoints table row. A NULL hash column
// round-trips to a nil *common.Hash, which in turn round-trips to an open
// cursor, so "no cursor checkpointed yet" survives restarts without a
// sentinel value.
type checkpointRow struct {
	ID                   int          `meddler:"id,pk"`
	FinalizedBlockNumber uint64       `meddler:"finalized_block_number"`
	FinalizedBlockHash   *common.Hash `meddler:"finalized_block_hash,hash"`
	AcceptedBlockNumber  uint64       `meddler:"accepted_block_number"`
	AcceptedBlockHash    *common.Hash `meddler:"accepted_block_hash,hash"`
	LastFlushedSegment   uint64       `meddler:"last_flushed_segment"`
	HasLastSegment       bool         `meddler:"has_last_segment"`
	LastFlushedGroup     uint64       `meddler:"last_flushed_group"`
	HasLastGroup         bool         `meddler:"has_last_group"`
}

// WriteObserver is notified after every durable checkpoint write, so the
// owning process can tie database maintenance to flush cadence.
// db.Maintenance satisfies it.
type WriteObserver interface {
	NoteCheckpointWrite()
}

// Store persists ChainTracker's finality checkpoint and the storage
// engine's last-flushed segment/group markers in a single-row sqlite
// table.
type Store struct {
	db       *sql.DB
	log      *logger.Logger
	observer WriteObserver
}

// ObserveWrites registers o to be notified after each successful save.
// Call before the store is shared across goroutines.
func (s *Store) ObserveWrites(o WriteObserver) {
	s.observer = o
}

func (s *Store) noteWrite() {
	if s.observer != nil {
		s.observer.NoteCheckpointWrite()
	}
}

// Open runs pending migrations and returns a ready Store.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	if err := runMigrations(log, cfg.Path); err != nil {
		return nil, fmt.Errorf("sqlmeta: running migrations: %w", err)
	}

	sqlDB, err := db.NewSQLiteDBFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("sqlmeta: opening database: %w", err)
	}

	if _, err := sqlDB.Exec(`INSERT OR IGNORE INTO checkpoints (id) VALUES (1)`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlmeta: seeding checkpoint row: %w", err)
	}

	return &Store{db: sqlDB, log: log.WithComponent(indexercommon.ComponentMetaStore)}, nil
}

func (s *Store) loadRow() (*checkpointRow, error) {
	var row checkpointRow
	err := meddler.QueryRow(s.db, &row, `SELECT * FROM checkpoints WHERE id = 1`)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// LoadCheckpoint implements metastore.MetaStore.
func (s *Store) LoadCheckpoint(ctx context.Context) (metastore.Checkpoint, error) {
	row, err := s.loadRow()
	if errors.Is(err, sql.ErrNoRows) {
		return metastore.Checkpoint{}, nil
	}
	if err != nil {
		return metastore.Checkpoint{}, fmt.Errorf("sqlmeta: loading checkpoint: %w", err)
	}

	return metastore.Checkpoint{
		FinalizedCursor:    rowCursor(row.FinalizedBlockNumber, row.FinalizedBlockHash),
		AcceptedCursor:     rowCursor(row.AcceptedBlockNumber, row.AcceptedBlockHash),
		LastFlushedSegment: row.LastFlushedSegment,
		HasLastSegment:     row.HasLastSegment,
		LastFlushedGroup:   row.LastFlushedGroup,
		HasLastGroup:       row.HasLastGroup,
	}, nil
}

// SaveFinality implements metastore.MetaStore.
func (s *Store) SaveFinality(ctx context.Context, finalized, accepted cursor.Cursor) error {
	row, err := s.loadRow()
	if err != nil {
		return fmt.Errorf("sqlmeta: saving finality: %w", err)
	}
	row.FinalizedBlockNumber = finalized.Number
	row.FinalizedBlockHash = rowHash(finalized)
	row.AcceptedBlockNumber = accepted.Number
	row.AcceptedBlockHash = rowHash(accepted)
	if err := meddler.Update(s.db, "checkpoints", row); err != nil {
		return fmt.Errorf("sqlmeta: saving finality: %w", err)
	}
	s.noteWrite()
	s.log.Debugw("checkpoint saved", "finalized", finalized.String(), "accepted", accepted.String())
	return nil
}

// SaveLastSegment implements metastore.MetaStore.
func (s *Store) SaveLastSegment(ctx context.Context, firstBlock uint64) error {
	row, err := s.loadRow()
	if err != nil {
		return fmt.Errorf("sqlmeta: saving last segment: %w", err)
	}
	row.LastFlushedSegment = firstBlock
	row.HasLastSegment = true
	if err := meddler.Update(s.db, "checkpoints", row); err != nil {
		return fmt.Errorf("sqlmeta: saving last segment: %w", err)
	}
	s.noteWrite()
	return nil
}

// SaveLastGroup implements metastore.MetaStore.
func (s *Store) SaveLastGroup(ctx context.Context, firstBlock uint64) error {
	row, err := s.loadRow()
	if err != nil {
		return fmt.Errorf("sqlmeta: saving last group: %w", err)
	}
	row.LastFlushedGroup = firstBlock
	row.HasLastGroup = true
	if err := meddler.Update(s.db, "checkpoints", row); err != nil {
		return fmt.Errorf("sqlmeta: saving last group: %w", err)
	}
	s.noteWrite()
	return nil
}

// Close implements metastore.MetaStore.
func (s *Store) Close() error {
	return s.db.Close()
}

func rowHash(c cursor.Cursor) *common.Hash {
	if c.IsOpen() {
		return nil
	}
	h := common.BytesToHash(c.Hash)
	return &h
}

func rowCursor(number uint64, h *common.Hash) cursor.Cursor {
	if h == nil {
		return cursor.AtHeight(number)
	}
	return cursor.New(number, h.Bytes())
}
