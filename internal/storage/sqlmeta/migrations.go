package sqlmeta

import (
	_ "embed"

	"github.com/goran-ethernal/chain-dna/internal/db"
	"github.com/goran-ethernal/chain-dna/internal/logger"
)

//go:embed migrations/001_metastore_checkpoints_1.sql
var mig001 string

func runMigrations(log *logger.Logger, dbPath string) error {
	migrations := []db.Migration{
		{
			ID:  "001_metastore_checkpoints_1.sql",
			SQL: mig001,
		},
	}
	return db.RunMigrations(log, dbPath, migrations)
}
