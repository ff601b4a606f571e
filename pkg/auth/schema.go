package auth

import (
	"context"
	"fmt"
)

// nowExpr renders the current time in db.TimeLayout inside SQLite.
const nowExpr = "(strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))"

const tablesSQL = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT,
	name TEXT,
	role TEXT NOT NULL DEFAULT 'editor',
	auth_provider TEXT NOT NULL DEFAULT 'password',
	github_id INTEGER,
	github_username TEXT,
	github_avatar_url TEXT,
	created_at TEXT NOT NULL DEFAULT ` + nowExpr + `
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id),
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT ` + nowExpr + `
);

CREATE TABLE IF NOT EXISTS password_reset_tokens (
	token TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id),
	email TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT ` + nowExpr + `
);

CREATE TABLE IF NOT EXISTS oauth_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	provider TEXT NOT NULL,
	access_token TEXT NOT NULL,
	scope TEXT,
	created_at TEXT NOT NULL DEFAULT ` + nowExpr + `,
	updated_at TEXT NOT NULL DEFAULT ` + nowExpr + `,
	UNIQUE (user_id, provider)
);

CREATE TABLE IF NOT EXISTS oauth_states (
	state TEXT PRIMARY KEY,
	redirect_uri TEXT,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT ` + nowExpr + `
);
`

// indexesSQL runs after the column migrations so that indexes on migrated
// columns always find their column.
const indexesSQL = `
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_password_reset_tokens_user_id ON password_reset_tokens(user_id);
CREATE INDEX IF NOT EXISTS idx_password_reset_tokens_expires_at ON password_reset_tokens(expires_at);
CREATE INDEX IF NOT EXISTS idx_oauth_states_expires_at ON oauth_states(expires_at);
CREATE INDEX IF NOT EXISTS idx_oauth_tokens_user_id ON oauth_tokens(user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_github_id ON users(github_id);
`

// columnMigration adds a users column missing from databases created by
// older releases.
type columnMigration struct {
	column string
	add    string
	after  []string
}

var userMigrations = []columnMigration{
	{
		column: "role",
		add:    "ALTER TABLE users ADD COLUMN role TEXT NOT NULL DEFAULT 'editor'",
		// Existing installs had a single implicit owner.
		after: []string{
			"UPDATE users SET role = 'admin' WHERE id = (SELECT MIN(id) FROM users)",
		},
	},
	{
		column: "auth_provider",
		add:    "ALTER TABLE users ADD COLUMN auth_provider TEXT NOT NULL DEFAULT 'password'",
	},
	{column: "github_id", add: "ALTER TABLE users ADD COLUMN github_id INTEGER"},
	{column: "github_username", add: "ALTER TABLE users ADD COLUMN github_username TEXT"},
	{column: "github_avatar_url", add: "ALTER TABLE users ADD COLUMN github_avatar_url TEXT"},
	{column: "name", add: "ALTER TABLE users ADD COLUMN name TEXT"},
}

// Initialize creates the schema if absent and applies pending migrations.
// It is safe to call on every start.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.db.Execute(ctx, tablesSQL); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}

	if err := m.migrateUsers(ctx); err != nil {
		return fmt.Errorf("migrating users table: %w", err)
	}

	if err := m.db.Execute(ctx, indexesSQL); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}

	m.log.Debug("Schema initialized")

	return nil
}

func (m *Manager) migrateUsers(ctx context.Context) error {
	var columns []struct {
		Name string `db:"name"`
	}

	if err := m.db.QueryAll(ctx, &columns, "PRAGMA table_info(users)"); err != nil {
		return fmt.Errorf("reading columns: %w", err)
	}

	existing := make(map[string]bool, len(columns))
	for _, c := range columns {
		existing[c.Name] = true
	}

	for _, mig := range userMigrations {
		if existing[mig.column] {
			continue
		}

		if _, err := m.db.Run(ctx, mig.add); err != nil {
			return fmt.Errorf("adding column %s: %w", mig.column, err)
		}

		for _, stmt := range mig.after {
			if _, err := m.db.Run(ctx, stmt); err != nil {
				return fmt.Errorf("backfilling column %s: %w", mig.column, err)
			}
		}

		m.log.WithField("column", mig.column).Info("Migrated users table")
	}

	return nil
}
