package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // registers the "libsql" driver
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const libsqlDriverName = "libsql"

// OpenLibSQL connects to a remote libSQL server. libsql:// URLs are spoken
// to over https, http:// and https:// URLs are used as given.
func OpenLibSQL(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg *config.LibSQLDatabaseConfig,
) (Adapter, error) {
	dsn, err := libsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(libsqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening libsql connection: %w", err)
	}

	// Remote statements carry no session state worth sharing, so a single
	// connection also keeps request ordering predictable.
	sqlDB.SetMaxOpenConns(1)

	gdb, err := gorm.Open(&sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	log = log.WithField("component", "db").WithField("driver", "libsql")
	log.WithField("url", redactedURL(cfg.URL)).Info("Database connected")

	return &gormAdapter{log: log, db: gdb, timeout: cfg.TimeoutDuration()}, nil
}

// libsqlDSN validates the configured URL and attaches the auth token the
// way the driver expects it.
func libsqlDSN(cfg *config.LibSQLDatabaseConfig) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing libsql url: %w", err)
	}

	switch u.Scheme {
	case "libsql", "https", "http":
	default:
		return "", fmt.Errorf("unsupported libsql url scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("libsql url %q has no host", cfg.URL)
	}

	q := u.Query()
	if cfg.AuthToken != "" {
		q.Set("authToken", cfg.AuthToken)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

func redactedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	u.RawQuery = ""
	u.User = nil

	return u.String()
}
