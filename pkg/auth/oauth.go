package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethpandaops/pressroom/pkg/token"
)

// CreateOAuthState issues a single-use CSRF state. redirectURI may be empty.
// Expired states are purged first.
func (m *Manager) CreateOAuthState(ctx context.Context, redirectURI string) (*OAuthState, error) {
	if err := m.purgeExpired(ctx, "oauth_states"); err != nil {
		return nil, err
	}

	value, err := token.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating oauth state: %w", err)
	}

	now := m.now()
	state := &OAuthState{
		State:       value,
		RedirectURI: redirectURI,
		ExpiresAt:   now.Add(m.oauthStateTTL),
		CreatedAt:   now,
	}

	if _, err := m.db.Run(ctx,
		"INSERT INTO oauth_states (state, redirect_uri, expires_at, created_at) VALUES (?, ?, ?, ?)",
		state.State, nullable(redirectURI), state.ExpiresAt, state.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("creating oauth state: %w", err)
	}

	return state, nil
}

// ConsumeOAuthState deletes the state and returns it if it was still valid.
// A second call with the same value returns nil.
func (m *Manager) ConsumeOAuthState(ctx context.Context, value string) (*OAuthState, error) {
	var row oauthStateRow

	found, err := m.db.QueryOne(ctx, &row,
		"SELECT state, redirect_uri, expires_at, created_at FROM oauth_states WHERE state = ?",
		value,
	)
	if err != nil {
		return nil, fmt.Errorf("getting oauth state: %w", err)
	}

	if !found {
		return nil, nil
	}

	res, err := m.db.Run(ctx, "DELETE FROM oauth_states WHERE state = ?", value)
	if err != nil {
		return nil, fmt.Errorf("deleting oauth state: %w", err)
	}

	// A concurrent callback consumed it first.
	if res.RowsChanged == 0 {
		return nil, nil
	}

	if !row.ExpiresAt.After(m.now()) {
		return nil, nil
	}

	return row.toState(), nil
}

// FindOrCreateGitHubUser links a GitHub identity to an account. A known
// GitHub id has its profile fields overwritten with the fetched values,
// blanks included. Otherwise a new account with
// role is created. An email that already belongs to another account fails
// with ErrEmailTaken.
func (m *Manager) FindOrCreateGitHubUser(
	ctx context.Context, id GitHubIdentity, role Role,
) (*User, error) {
	if id.ID == 0 || id.Login == "" {
		return nil, fmt.Errorf("%w: github id and login are required", ErrValidation)
	}

	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	existing, err := m.userRow(ctx, "github_id = ?", id.ID)
	if err == nil {
		if _, err := m.db.Run(ctx,
			`UPDATE users SET github_username = ?, github_avatar_url = ?, name = ?
			WHERE id = ?`,
			id.Login, nullable(id.AvatarURL), nullable(id.Name), existing.ID,
		); err != nil {
			return nil, fmt.Errorf("refreshing github profile: %w", err)
		}

		return m.GetUserByID(ctx, existing.ID)
	}

	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	email := strings.TrimSpace(id.Email)
	if email == "" {
		email = noreplyEmail(id)
	}

	if err := m.ensureEmailFree(ctx, email, 0); err != nil {
		return nil, err
	}

	var inserted struct {
		ID int64 `db:"id"`
	}

	if _, err := m.db.QueryOne(ctx, &inserted,
		`INSERT INTO users (email, password_hash, name, role, auth_provider,
			github_id, github_username, github_avatar_url, created_at)
		VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		email, nullable(id.Name), string(role), string(ProviderGitHub),
		id.ID, id.Login, nullable(id.AvatarURL), m.now(),
	); err != nil {
		return nil, fmt.Errorf("creating github user: %w", err)
	}

	m.log.WithField("user_id", inserted.ID).
		WithField("github_login", id.Login).
		WithField("role", role).
		Info("Created GitHub user")

	return m.GetUserByID(ctx, inserted.ID)
}

// StoreOAuthToken saves the provider access token for userID, replacing an
// earlier one.
func (m *Manager) StoreOAuthToken(
	ctx context.Context, userID int64, provider Provider, accessToken, scope string,
) error {
	now := m.now()

	if _, err := m.db.Run(ctx,
		`INSERT INTO oauth_tokens (user_id, provider, access_token, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			scope = excluded.scope,
			updated_at = excluded.updated_at`,
		userID, string(provider), accessToken, nullable(scope), now, now,
	); err != nil {
		return fmt.Errorf("storing oauth token: %w", err)
	}

	return nil
}

// GetOAuthToken returns the stored token for userID and provider or
// ErrNotFound.
func (m *Manager) GetOAuthToken(
	ctx context.Context, userID int64, provider Provider,
) (*OAuthToken, error) {
	var row oauthTokenRow

	found, err := m.db.QueryOne(ctx, &row,
		`SELECT id, user_id, provider, access_token, scope, created_at, updated_at
		FROM oauth_tokens WHERE user_id = ? AND provider = ?`,
		userID, string(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("getting oauth token: %w", err)
	}

	if !found {
		return nil, fmt.Errorf("oauth token: %w", ErrNotFound)
	}

	return row.toToken(), nil
}

func noreplyEmail(id GitHubIdentity) string {
	return strconv.FormatInt(id.ID, 10) + "+" + id.Login + "@users.noreply.github.com"
}
