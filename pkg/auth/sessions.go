package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/pressroom/pkg/password"
	"github.com/ethpandaops/pressroom/pkg/token"
)

// Login verifies credentials and opens a session. Unknown emails, accounts
// without a password and wrong passwords all fail with
// ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, email, pw string) (*AuthSession, error) {
	row, err := m.userRow(ctx, "email = ?", email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}

		return nil, err
	}

	if row.PasswordHash == nil || !password.Verify(pw, *row.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	session, err := m.CreateSession(ctx, row.ID)
	if err != nil {
		return nil, err
	}

	m.log.WithField("user_id", row.ID).Info("User logged in")

	return &AuthSession{User: row.toUser(), Session: session}, nil
}

// CreateSession opens a new session for userID. A user may hold any number
// of sessions.
func (m *Manager) CreateSession(ctx context.Context, userID int64) (*Session, error) {
	id, err := token.GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	now := m.now()
	session := &Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(m.sessionTTL),
		CreatedAt: now,
	}

	if _, err := m.db.Run(ctx,
		"INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return session, nil
}

// Logout deletes the session. Unknown ids are not an error.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if _, err := m.db.Run(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

// GetSession returns the live session and its user, or nil when the session
// does not exist or has expired. Expired sessions are purged first.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*AuthSession, error) {
	if err := m.purgeExpired(ctx, "sessions"); err != nil {
		return nil, err
	}

	var row sessionUserRow

	found, err := m.db.QueryOne(ctx, &row,
		`SELECT s.id AS session_id, s.expires_at AS session_expires_at,
			s.created_at AS session_created_at,
			u.id, u.email, u.name, u.role, u.auth_provider, u.github_id,
			u.github_username, u.github_avatar_url, u.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = ? AND s.expires_at > ?`,
		sessionID, m.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	if !found {
		return nil, nil
	}

	return row.toAuthSession(), nil
}

// RefreshSession extends a live session to now plus the session TTL. An
// expired or unknown session returns nil and is not revived.
func (m *Manager) RefreshSession(ctx context.Context, sessionID string) (*Session, error) {
	now := m.now()

	res, err := m.db.Run(ctx,
		"UPDATE sessions SET expires_at = ? WHERE id = ? AND expires_at > ?",
		now.Add(m.sessionTTL), sessionID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("refreshing session: %w", err)
	}

	if res.RowsChanged == 0 {
		return nil, nil
	}

	var row sessionRow

	found, err := m.db.QueryOne(ctx, &row,
		"SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = ?", sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	if !found {
		return nil, nil
	}

	return row.toSession(), nil
}

// DeleteUserSessions ends every session held by userID.
func (m *Manager) DeleteUserSessions(ctx context.Context, userID int64) error {
	if _, err := m.db.Run(ctx, "DELETE FROM sessions WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}

	return nil
}
