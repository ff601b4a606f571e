package auth

import (
	"time"
)

// Role is the authorization level of a user.
type Role string

// User roles.
const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEditor
}

// Provider identifies how a user authenticates.
type Provider string

// Authentication providers.
const (
	ProviderPassword Provider = "password"
	ProviderGitHub   Provider = "github"
)

// User is the public view of an account. The password hash never leaves
// the manager.
type User struct {
	ID              int64     `json:"id"`
	Email           string    `json:"email"`
	Name            *string   `json:"name"`
	Role            Role      `json:"role"`
	AuthProvider    Provider  `json:"auth_provider"`
	GitHubID        *int64    `json:"github_id,omitempty"`
	GitHubUsername  *string   `json:"github_username,omitempty"`
	GitHubAvatarURL *string   `json:"github_avatar_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Session binds an opaque identifier to a user until ExpiresAt.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthSession is a live session together with its user.
type AuthSession struct {
	User    *User    `json:"user"`
	Session *Session `json:"session"`
}

// PasswordResetToken is a single-use credential for setting a new password.
type PasswordResetToken struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// OAuthToken is a provider access token held on behalf of a user.
type OAuthToken struct {
	ID          int64
	UserID      int64
	Provider    Provider
	AccessToken string
	Scope       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OAuthState binds an authorization request to its callback.
type OAuthState struct {
	State       string
	RedirectURI string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// GitHubIdentity is the subset of a GitHub profile used to link accounts.
type GitHubIdentity struct {
	ID        int64
	Login     string
	Name      string
	Email     string
	AvatarURL string
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

// UserList is one page of users.
type UserList struct {
	Users      []User     `json:"users"`
	Pagination Pagination `json:"pagination"`
}

// PurgeResult counts rows removed by PurgeExpired.
type PurgeResult struct {
	Sessions    int64
	ResetTokens int64
	OAuthStates int64
}

// --- Row shapes ---

const userColumns = "id, email, password_hash, name, role, auth_provider, " +
	"github_id, github_username, github_avatar_url, created_at"

type userRow struct {
	ID              int64     `db:"id"`
	Email           string    `db:"email"`
	PasswordHash    *string   `db:"password_hash"`
	Name            *string   `db:"name"`
	Role            string    `db:"role"`
	AuthProvider    string    `db:"auth_provider"`
	GitHubID        *int64    `db:"github_id"`
	GitHubUsername  *string   `db:"github_username"`
	GitHubAvatarURL *string   `db:"github_avatar_url"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r *userRow) toUser() *User {
	provider := Provider(r.AuthProvider)
	if provider == "" {
		provider = ProviderPassword
	}

	return &User{
		ID:              r.ID,
		Email:           r.Email,
		Name:            r.Name,
		Role:            Role(r.Role),
		AuthProvider:    provider,
		GitHubID:        r.GitHubID,
		GitHubUsername:  r.GitHubUsername,
		GitHubAvatarURL: r.GitHubAvatarURL,
		CreatedAt:       r.CreatedAt,
	}
}

type sessionRow struct {
	ID        string    `db:"id"`
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *sessionRow) toSession() *Session {
	return &Session{
		ID:        r.ID,
		UserID:    r.UserID,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
}

// sessionUserRow is a session joined with its user. Session columns are
// aliased with a session_ prefix.
type sessionUserRow struct {
	ID              int64     `db:"id"`
	Email           string    `db:"email"`
	Name            *string   `db:"name"`
	Role            string    `db:"role"`
	AuthProvider    string    `db:"auth_provider"`
	GitHubID        *int64    `db:"github_id"`
	GitHubUsername  *string   `db:"github_username"`
	GitHubAvatarURL *string   `db:"github_avatar_url"`
	CreatedAt       time.Time `db:"created_at"`

	SessionID        string    `db:"session_id"`
	SessionExpiresAt time.Time `db:"session_expires_at"`
	SessionCreatedAt time.Time `db:"session_created_at"`
}

func (r *sessionUserRow) toAuthSession() *AuthSession {
	user := (&userRow{
		ID:              r.ID,
		Email:           r.Email,
		Name:            r.Name,
		Role:            r.Role,
		AuthProvider:    r.AuthProvider,
		GitHubID:        r.GitHubID,
		GitHubUsername:  r.GitHubUsername,
		GitHubAvatarURL: r.GitHubAvatarURL,
		CreatedAt:       r.CreatedAt,
	}).toUser()

	return &AuthSession{
		User: user,
		Session: &Session{
			ID:        r.SessionID,
			UserID:    r.ID,
			ExpiresAt: r.SessionExpiresAt,
			CreatedAt: r.SessionCreatedAt,
		},
	}
}

type resetTokenRow struct {
	Token     string    `db:"token"`
	UserID    int64     `db:"user_id"`
	Email     string    `db:"email"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *resetTokenRow) toToken() *PasswordResetToken {
	return &PasswordResetToken{
		Token:     r.Token,
		UserID:    r.UserID,
		Email:     r.Email,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
}

type oauthTokenRow struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Provider    string    `db:"provider"`
	AccessToken string    `db:"access_token"`
	Scope       *string   `db:"scope"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *oauthTokenRow) toToken() *OAuthToken {
	t := &OAuthToken{
		ID:          r.ID,
		UserID:      r.UserID,
		Provider:    Provider(r.Provider),
		AccessToken: r.AccessToken,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	if r.Scope != nil {
		t.Scope = *r.Scope
	}

	return t
}

type oauthStateRow struct {
	State       string    `db:"state"`
	RedirectURI *string   `db:"redirect_uri"`
	ExpiresAt   time.Time `db:"expires_at"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *oauthStateRow) toState() *OAuthState {
	s := &OAuthState{
		State:     r.State,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}

	if r.RedirectURI != nil {
		s.RedirectURI = *r.RedirectURI
	}

	return s
}

type countRow struct {
	N int64 `db:"n"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
