package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/chain-dna/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteDBCreatesParentFolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "meta.db")
	sqlDB, err := NewSQLiteDB(path)
	require.NoError(t, err)
	defer sqlDB.Close()

	require.NoError(t, sqlDB.Ping())
	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}

func TestConfigPragmasApplied(t *testing.T) {
	cfg := config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "meta.db"),
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 2500,
		CacheSize:   5000,
	}
	sqlDB, err := NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	defer sqlDB.Close()

	var mode string
	require.NoError(t, sqlDB.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	require.Equal(t, "wal", mode)

	isWAL, err := isWALMode(sqlDB)
	require.NoError(t, err)
	require.True(t, isWAL)
}

func TestNonWALJournalMode(t *testing.T) {
	cfg := config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "meta.db"),
		JournalMode: "DELETE",
		Synchronous: "NORMAL",
		BusyTimeout: 1000,
		CacheSize:   1000,
	}
	sqlDB, err := NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	defer sqlDB.Close()

	isWAL, err := isWALMode(sqlDB)
	require.NoError(t, err)
	require.False(t, isWAL)
}

func TestDBTotalSizeCountsWAL(t *testing.T) {
	sqlDB, path := newCheckpointDB(t)

	// Single-row updates are the metastore's entire write pattern; each
	// one appends WAL frames that DBTotalSize must count.
	for i := uint64(1); i <= 200; i++ {
		saveCheckpoint(t, sqlDB, i)
	}

	total, err := DBTotalSize(path)
	require.NoError(t, err)
	mainOnly, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, total, mainOnly.Size())
}

func TestDBTotalSizeMissingFile(t *testing.T) {
	total, err := DBTotalSize(filepath.Join(t.TempDir(), "never-created.db"))
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestVacuumOnCheckpointWorkload(t *testing.T) {
	sqlDB, _ := newCheckpointDB(t)
	for i := uint64(1); i <= 100; i++ {
		saveCheckpoint(t, sqlDB, i)
	}
	require.NoError(t, Vacuum(sqlDB))
}
