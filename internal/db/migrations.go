package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/goran-ethernal/chain-dna/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one embedded schema migration: its SQL carries a Down
// section followed by the Up section, separated by sql-migrate's markers.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations opens the sqlite file at dbPath on a short-lived default
// connection and applies every pending migration, up.
func RunMigrations(log *logger.Logger, dbPath string, migrations []Migration) error {
	sqlDB, err := NewSQLiteDB(dbPath)
	if err != nil {
		return fmt.Errorf("db: opening %s for migration: %w", dbPath, err)
	}
	defer sqlDB.Close()
	return RunMigrationsDB(log, sqlDB, migrations)
}

// RunMigrationsDB applies every pending migration, up, on an already-open
// connection.
func RunMigrationsDB(log *logger.Logger, sqlDB *sql.DB, migrations []Migration) error {
	source := &migrate.MemoryMigrationSource{}
	for _, m := range migrations {
		up, down, err := splitMigration(m)
		if err != nil {
			return err
		}
		source.Migrations = append(source.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{up},
			Down: []string{down},
		})
	}

	applied, err := migrate.Exec(sqlDB, "sqlite3", source, migrate.Up)
	if err != nil {
		return fmt.Errorf("db: applying migrations: %w", err)
	}
	if applied > 0 {
		log.Infow("schema migrations applied", "count", applied)
	}
	return nil
}

// splitMigration separates a migration's SQL into its Up and Down halves.
func splitMigration(m Migration) (up, down string, err error) {
	idx := strings.Index(m.SQL, upMarker)
	if idx < 0 {
		return "", "", fmt.Errorf("db: migration %s is missing the %q marker", m.ID, upMarker)
	}
	up = strings.TrimSpace(m.SQL[idx+len(upMarker):])

	down = m.SQL[:idx]
	if di := strings.Index(down, downMarker); di >= 0 {
		down = down[di+len(downMarker):]
	}
	down = strings.TrimSpace(down)
	return up, down, nil
}
