package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/pressroom/pkg/auth"
	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/ethpandaops/pressroom/pkg/db/dbtest"
	"github.com/ethpandaops/pressroom/pkg/github"
	"github.com/ethpandaops/pressroom/pkg/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type testEnv struct {
	srv     *server
	handler http.Handler
	clock   *fakeClock
}

type testOption func(*server)

func withGitHub(c *github.Client) testOption {
	return func(s *server) { s.github = c }
}

func withMailer(m mail.Sender) testOption {
	return func(s *server) { s.mailer = m }
}

func withConfig(fn func(cfg *config.Config)) testOption {
	return func(s *server) { fn(s.cfg) }
}

func newTestEnv(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Server.PublicURL = "http://cms.example"

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := dbtest.Logger()
	adapter := dbtest.NewSQLite(t)

	s := &server{
		log:      log,
		cfg:      cfg,
		db:       adapter,
		auth:     auth.NewManager(log, adapter, auth.WithClock(clock.Now)),
		validate: newValidator(),
		now:      clock.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	require.NoError(t, s.auth.Initialize(context.Background()))

	return &testEnv{srv: s, handler: s.buildRouter(), clock: clock}
}

// do sends a request with an optional JSON body and bearer session.
func (e *testEnv) do(t *testing.T, method, path string, body any, session string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	return rec
}

// seedUser creates a password account directly through the manager.
func (e *testEnv) seedUser(t *testing.T, email string, role auth.Role) *auth.User {
	t.Helper()

	u, err := e.srv.auth.CreateUser(context.Background(), auth.CreateUserParams{
		Email:    email,
		Password: "password123",
		Role:     role,
	})
	require.NoError(t, err)

	return u
}

// login signs in and returns the session id.
func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}

	return nil
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[statusResponse](t, rec).Status)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/users/1", nil)
	req.Header.Set("Origin", "http://admin.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://admin.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		setup   func(req *http.Request)
		wantErr string
	}{
		{
			name:    "no credentials",
			setup:   func(*http.Request) {},
			wantErr: "authentication required",
		},
		{
			name: "malformed bearer",
			setup: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer ' OR 1=1 --")
			},
			wantErr: "authentication required",
		},
		{
			name: "unknown session cookie",
			setup: func(req *http.Request) {
				req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: string(bytes.Repeat([]byte("a"), 64))})
			},
			wantErr: "invalid or expired session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			tt.setup(req)

			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.wantErr, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/dashboard", "/dashboard"},
		{"/posts?draft=1", "/posts?draft=1"},
		{"", ""},
		{"dashboard", ""},
		{"//evil.example", ""},
		{"https://evil.example", ""},
		{`/\evil.example`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, safeRedirect(tt.in))
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "pressroom.db")
	cfg.Auth.SessionCleanupInterval = "10ms"
	require.NoError(t, cfg.Validate())

	srv := NewServer(dbtest.Logger(), cfg)
	require.NoError(t, srv.Start(context.Background()))

	// Let the sweeper run at least once.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, srv.Stop())

	_, err = os.Stat(cfg.Database.SQLite.Path)
	assert.NoError(t, err)
}
