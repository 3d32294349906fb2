package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chronos/internal/constants"
	"chronos/internal/lock"
)

const (
	baseDir = "./migrations"
	schema  = "chronos_schema"
)

// Init creates the schema and applies every SQL script under ./migrations,
// holding the migration advisory lock so only one scheduler instance runs
// the scripts at a time.
func Init(ctx context.Context, db *sql.DB, lockMgr lock.DistributedLockManager, logger *zap.Logger) error {
	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database unreachable")
	}

	if err := lockMgr.Acquire(ctx, constants.MigrationLock); err != nil {
		return err
	}
	defer lockMgr.Release(ctx, constants.MigrationLock)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return errors.Wrap(err, "create schema")
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for name, script := range scripts {
		logger.Info("applying migration", zap.String("file", name))
		if _, err := db.ExecContext(ctx, script); err != nil {
			return errors.Wrapf(err, "migration %s", name)
		}
	}
	return nil
}

func readSQLScripts() (map[string]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations dir")
	}

	scripts := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(baseDir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read migration %s", entry.Name())
		}
		scripts[entry.Name()] = string(content)
	}
	return scripts, nil
}
