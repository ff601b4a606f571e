// Package auth owns user accounts, sessions, password reset tokens and
// OAuth account linking. Every table it creates is private to it.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/pressroom/pkg/db"
	"github.com/sirupsen/logrus"
)

// Default lifetimes.
const (
	DefaultSessionTTL    = 7 * 24 * time.Hour
	DefaultResetTokenTTL = time.Hour
	DefaultOAuthStateTTL = 10 * time.Minute
)

// Manager implements authentication on top of a db.Adapter.
type Manager struct {
	log logrus.FieldLogger
	db  db.Adapter

	sessionTTL    time.Duration
	resetTokenTTL time.Duration
	oauthStateTTL time.Duration
	clock         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithSessionTTL sets the lifetime of new and refreshed sessions.
func WithSessionTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sessionTTL = d
		}
	}
}

// WithResetTokenTTL sets the lifetime of password reset tokens.
func WithResetTokenTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.resetTokenTTL = d
		}
	}
}

// WithOAuthStateTTL sets the lifetime of OAuth CSRF states.
func WithOAuthStateTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.oauthStateTTL = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager creates a Manager. Call Initialize before first use.
func NewManager(log logrus.FieldLogger, adapter db.Adapter, opts ...Option) *Manager {
	m := &Manager{
		log:           log.WithField("component", "auth"),
		db:            adapter,
		sessionTTL:    DefaultSessionTTL,
		resetTokenTTL: DefaultResetTokenTTL,
		oauthStateTTL: DefaultOAuthStateTTL,
		clock:         time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SessionTTL returns the configured session lifetime.
func (m *Manager) SessionTTL() time.Duration {
	return m.sessionTTL
}

// now is truncated to the stored timestamp precision.
func (m *Manager) now() time.Time {
	return m.clock().UTC().Truncate(time.Millisecond)
}

// PurgeExpired deletes every expired session, reset token and OAuth state.
func (m *Manager) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	var (
		out PurgeResult
		now = db.FormatTime(m.now())
	)

	targets := []struct {
		table string
		count *int64
	}{
		{table: "sessions", count: &out.Sessions},
		{table: "password_reset_tokens", count: &out.ResetTokens},
		{table: "oauth_states", count: &out.OAuthStates},
	}

	for _, t := range targets {
		res, err := m.db.Run(ctx, "DELETE FROM "+t.table+" WHERE expires_at <= ?", now)
		if err != nil {
			return out, fmt.Errorf("purging %s: %w", t.table, err)
		}

		*t.count = res.RowsChanged
	}

	if out.Sessions+out.ResetTokens+out.OAuthStates > 0 {
		m.log.WithFields(logrus.Fields{
			"sessions":     out.Sessions,
			"reset_tokens": out.ResetTokens,
			"oauth_states": out.OAuthStates,
		}).Debug("Purged expired rows")
	}

	return out, nil
}

func (m *Manager) purgeExpired(ctx context.Context, table string) error {
	if _, err := m.db.Run(ctx,
		"DELETE FROM "+table+" WHERE expires_at <= ?", db.FormatTime(m.now()),
	); err != nil {
		return fmt.Errorf("purging expired %s: %w", table, err)
	}

	return nil
}

func (m *Manager) count(ctx context.Context, query string, args ...any) (int64, error) {
	var row countRow
	if _, err := m.db.QueryOne(ctx, &row, query, args...); err != nil {
		return 0, err
	}

	return row.N, nil
}
