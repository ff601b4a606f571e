package api

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/pressroom/pkg/auth"
	"github.com/ethpandaops/pressroom/pkg/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	mu       sync.Mutex
	to       string
	resetURL string
	err      error
}

func (m *recordingMailer) SendPasswordResetEmail(_ context.Context, to, resetURL string) (*mail.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.to = to
	m.resetURL = resetURL

	if m.err != nil {
		return nil, m.err
	}

	return &mail.Receipt{MessageID: "msg-1"}, nil
}

func TestSetupAndLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/install", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[installResponse](t, rec).Installed)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/setup", map[string]string{
		"email": "admin@example.com", "password": "password123", "name": "Ada",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	setup := decode[sessionResponse](t, rec)
	assert.Equal(t, auth.RoleAdmin, setup.User.Role)
	require.NotNil(t, setup.User.Name)
	assert.Equal(t, "Ada", *setup.User.Name)
	assert.Len(t, setup.Token, 64)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Equal(t, setup.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/install", nil, "")
	assert.True(t, decode[installResponse](t, rec).Installed)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/setup", map[string]string{
		"email": "second@example.com", "password": "password123",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	token := env.login(t, "admin@example.com", "password123")

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin@example.com", decode[meResponse](t, rec).User.Email)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sessionCookie(rec))
	assert.Equal(t, -1, sessionCookie(rec).MaxAge)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The setup session is independent of the one that logged out.
	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, setup.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetup_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		body    map[string]string
		wantErr string
	}{
		{
			name:    "missing email",
			body:    map[string]string{"password": "password123"},
			wantErr: "email is required",
		},
		{
			name:    "bad email",
			body:    map[string]string{"email": "nope", "password": "password123"},
			wantErr: "email must be a valid email address",
		},
		{
			name:    "short password",
			body:    map[string]string{"email": "a@example.com", "password": "short"},
			wantErr: "password must be at least 8 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/auth/setup", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantErr, decode[errorResponse](t, rec).Error)
		})
	}

	installed, err := env.srv.auth.HasAnyUsers(context.Background())
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "editor@example.com", auth.RoleEditor)

	tests := []struct {
		name     string
		body     map[string]string
		wantCode int
		wantErr  string
	}{
		{
			name:     "wrong password",
			body:     map[string]string{"email": "editor@example.com", "password": "nope"},
			wantCode: http.StatusUnauthorized,
			wantErr:  "invalid email or password",
		},
		{
			name:     "unknown user",
			body:     map[string]string{"email": "ghost@example.com", "password": "password123"},
			wantCode: http.StatusUnauthorized,
			wantErr:  "invalid email or password",
		},
		{
			name:     "missing password",
			body:     map[string]string{"email": "editor@example.com"},
			wantCode: http.StatusBadRequest,
			wantErr:  "password is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/auth/login", tt.body, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decode[errorResponse](t, rec).Error)
		})
	}

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe_SlidesSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "editor@example.com", auth.RoleEditor)

	token := env.login(t, "editor@example.com", "password123")
	start := env.clock.Now()

	// Early in the session nothing changes.
	env.clock.Advance(24 * time.Hour)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, sessionCookie(rec))
	assert.True(t, decode[meResponse](t, rec).ExpiresAt.Equal(start.Add(7*24*time.Hour)))

	// Past half the lifetime the session is extended.
	env.clock.Advance(3 * 24 * time.Hour)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sessionCookie(rec))
	assert.True(t, decode[meResponse](t, rec).ExpiresAt.Equal(env.clock.Now().Add(7*24*time.Hour)))

	// The original expiry no longer applies.
	env.clock.Advance(4 * 24 * time.Hour)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPasswordReset_DevFallback(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "editor@example.com", auth.RoleEditor)
	oldSession := env.login(t, "editor@example.com", "password123")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/password-reset",
		map[string]string{"email": "ghost@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	unknown := decode[passwordResetResponse](t, rec)
	assert.Equal(t, resetRequestedMessage, unknown.Message)
	assert.Empty(t, unknown.Token)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/password-reset",
		map[string]string{"email": "editor@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[passwordResetResponse](t, rec)
	assert.Equal(t, resetRequestedMessage, resp.Message)
	require.Len(t, resp.Token, 64)
	assert.Equal(t, "http://cms.example/reset-password?token="+resp.Token, resp.ResetURL)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/password-reset/"+resp.Token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, validateResetResponse{Valid: true, Email: "editor@example.com"},
		decode[validateResetResponse](t, rec))

	rec = env.do(t, http.MethodPost, "/api/v1/auth/password-reset/confirm",
		map[string]string{"token": resp.Token, "password": "short"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password must be at least 8 characters", decode[errorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/password-reset/confirm",
		map[string]string{"token": resp.Token, "password": "brand-new-pass"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Single use.
	rec = env.do(t, http.MethodPost, "/api/v1/auth/password-reset/confirm",
		map[string]string{"token": resp.Token, "password": "another-pass"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid or expired reset token", decode[errorResponse](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/password-reset/"+resp.Token, nil, "")
	assert.False(t, decode[validateResetResponse](t, rec).Valid)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, oldSession)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.login(t, "editor@example.com", "brand-new-pass")
}

func TestPasswordReset_Mailer(t *testing.T) {
	mailer := &recordingMailer{}
	env := newTestEnv(t, withMailer(mailer))
	env.seedUser(t, "editor@example.com", auth.RoleEditor)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/password-reset",
		map[string]string{"email": "editor@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[passwordResetResponse](t, rec)
	assert.Empty(t, resp.Token)
	assert.Empty(t, resp.ResetURL)

	assert.Equal(t, "editor@example.com", mailer.to)

	u, err := url.Parse(mailer.resetURL)
	require.NoError(t, err)
	assert.Equal(t, "cms.example", u.Host)
	assert.Equal(t, "/reset-password", u.Path)
	assert.Len(t, u.Query().Get("token"), 64)

	// A failed delivery still answers with the generic response.
	mailer.err = mail.ErrSendFailed

	rec = env.do(t, http.MethodPost, "/api/v1/auth/password-reset",
		map[string]string{"email": "editor@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resetRequestedMessage, decode[passwordResetResponse](t, rec).Message)
}

func TestValidateResetToken_Malformed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/password-reset/not-a-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[validateResetResponse](t, rec).Valid)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "editor@example.com", auth.RoleEditor)
	token := env.login(t, "editor@example.com", "password123")

	tests := []struct {
		name    string
		current string
		next    string
		wantErr string
	}{
		{
			name:    "unchanged",
			current: "password123",
			next:    "password123",
			wantErr: auth.ErrPasswordUnchanged.Error(),
		},
		{
			name:    "wrong current password",
			current: "guess-guess",
			next:    "brand-new-pass",
			wantErr: "current password is incorrect",
		},
		{
			name:    "too short",
			current: "password123",
			next:    "short",
			wantErr: "new_password must be at least 8 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
				"current_password": tt.current, "new_password": tt.next,
			}, token)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantErr, decode[errorResponse](t, rec).Error)
		})
	}

	rec := env.do(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": "password123", "new_password": "brand-new-pass",
	}, token)
	require.Equal(t, http.StatusOK, rec.Code)

	env.login(t, "editor@example.com", "brand-new-pass")

	rec = env.do(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": "password123", "new_password": "brand-new-pass",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePassword_GitHubAccount(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.srv.auth.FindOrCreateGitHubUser(context.Background(), auth.GitHubIdentity{
		ID: 42, Login: "octo", Email: "octo@example.com",
	}, auth.RoleEditor)
	require.NoError(t, err)

	sess, err := env.srv.auth.CreateSession(context.Background(), user.ID)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": "anything-at-all", "new_password": "brand-new-pass",
	}, sess.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "GitHub")
}
