package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goran-ethernal/chain-dna/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

const dbFolderPerm = 0755

// ensureDBFolder ensures the directory that contains dbPath exists.
// Example dbPath: "./data/meta.sqlite"
func ensureDBFolder(dbPath string) error {
	dir := filepath.Dir(dbPath)
	return os.MkdirAll(dir, dbFolderPerm)
}

// NewSQLiteDBFromConfig creates a new SQLite DB with the given configuration.
func NewSQLiteDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	if err := ensureDBFolder(cfg.Path); err != nil {
		return nil, fmt.Errorf("failed to ensure DB folder: %w", err)
	}

	// Build connection string with configuration options
	foreignKeys := "off"
	if cfg.EnableForeignKeys {
		foreignKeys = "on"
	}

	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=%s&_journal_mode=%s&_busy_timeout=%d",
		cfg.Path,
		foreignKeys,
		cfg.JournalMode,
		cfg.BusyTimeout,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply connection pool settings
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	// Apply PRAGMA settings
	pragmas := []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return db, nil
}

// NewSQLiteDB creates a new SQLite DB at dbPath with default connection
// settings. Used by migration runners, which only need a short-lived
// connection before the configured pool is opened.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	cfg := config.DatabaseConfig{Path: dbPath}
	cfg.ApplyDefaults()
	return NewSQLiteDBFromConfig(cfg)
}

// DBTotalSize returns the combined size of the SQLite main file + WAL + SHM.
// If WAL/SHM do not exist, they are simply ignored.
func DBTotalSize(dbPath string) (int64, error) {
	total := int64(0)

	// Check main database file
	if info, err := os.Stat(dbPath); err == nil {
		total += info.Size()
	} else if !os.IsNotExist(err) {
		return 0, err
	}

	// Add WAL + SHM if present
	for _, ext := range []string{"-wal", "-shm"} {
		p := dbPath + ext
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		} else if !os.IsNotExist(err) {
			return 0, err
		}
	}

	return total, nil
}

func Vacuum(db *sql.DB) error {
	isWALMode, err := isWALMode(db)
	if err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}

	// If in WAL mode, use checkpoint to reclaim space
	if isWALMode {
		return vacuumWAL(db)
	}

	// For non-WAL modes (DELETE, TRUNCATE, PERSIST), VACUUM also requires exclusive access
	// Attempt VACUUM - this may fail if other connections are active
	_, err = db.Exec(`VACUUM;`)
	if err != nil {
		// A locked database is returned as an error rather than waited on
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("cannot vacuum: database is locked by other connections (run during maintenance window): %w", err)
		}
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	return nil
}

func vacuumWAL(db *sql.DB) error {
	// In WAL mode the tracker's finality checkpointing and the segment
	// pipeline's flush markers keep connections open, so switching journal
	// modes for a full VACUUM would need exclusive access it cannot get.
	// A TRUNCATE checkpoint merges the WAL back into the main file and
	// shrinks the -wal file in place, which is where all of the growth is
	// for a single-row checkpoint table.
	if _, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

func isWALMode(db *sql.DB) (bool, error) {
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode;`).Scan(&mode); err != nil {
		return false, err
	}
	return strings.EqualFold(mode, "wal"), nil
}
