package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const memoryPath = ":memory:"

// OpenSQLite opens the embedded SQLite database at path. ":memory:" opens
// a private in-memory database.
func OpenSQLite(
	ctx context.Context,
	log logrus.FieldLogger,
	path string,
) (Adapter, error) {
	if path != memoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying db: %w", err)
	}

	// A single connection keeps :memory: databases shared and serialises
	// writers on file databases.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != memoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, p := range pragmas {
		if err := gdb.WithContext(ctx).Exec(p).Error; err != nil {
			_ = sqlDB.Close()

			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	log = log.WithField("component", "db").WithField("driver", "sqlite")
	log.WithField("path", path).Info("Database connected")

	return &gormAdapter{log: log, db: gdb}, nil
}
