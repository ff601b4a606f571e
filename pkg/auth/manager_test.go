package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/pressroom/pkg/db"
	"github.com/ethpandaops/pressroom/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
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

func setupManager(t *testing.T, adapter db.Adapter, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	m := NewManager(dbtest.Logger(), adapter, opts...)
	require.NoError(t, m.Initialize(context.Background()))

	return m, clock
}

// forEachBackend runs fn against a fresh manager on every database driver.
func forEachBackend(t *testing.T, fn func(t *testing.T, m *Manager, clock *fakeClock)) {
	t.Helper()

	for driver, adapter := range dbtest.Backends(t) {
		t.Run(driver, func(t *testing.T) {
			m, clock := setupManager(t, adapter)
			fn(t, m, clock)
		})
	}
}

func createUser(t *testing.T, m *Manager, email string, role Role) *User {
	t.Helper()

	u, err := m.CreateUser(context.Background(), CreateUserParams{
		Email:    email,
		Password: "secret123",
		Role:     role,
	})
	require.NoError(t, err)

	return u
}

func TestInitialize_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, _ *fakeClock) {
		ctx := context.Background()

		require.NoError(t, m.Initialize(ctx))
		require.NoError(t, m.Initialize(ctx))

		has, err := m.HasAnyUsers(ctx)
		require.NoError(t, err)
		assert.False(t, has)

		createUser(t, m, "a@x.com", RoleAdmin)

		has, err = m.HasAnyUsers(ctx)
		require.NoError(t, err)
		assert.True(t, has)
	})
}

func TestInitialize_MigratesLegacyUsersTable(t *testing.T) {
	ctx := context.Background()
	adapter := dbtest.NewSQLite(t)

	require.NoError(t, adapter.Execute(ctx, `
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		);
		INSERT INTO users (email, password_hash) VALUES ('owner@x.com', 'x:y');
		INSERT INTO users (email, password_hash) VALUES ('writer@x.com', 'x:y');
	`))

	m, _ := setupManager(t, adapter)

	owner, err := m.GetUserByEmail(ctx, "owner@x.com")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, owner.Role)
	assert.Equal(t, ProviderPassword, owner.AuthProvider)
	assert.Nil(t, owner.Name)
	assert.False(t, owner.CreatedAt.IsZero())

	writer, err := m.GetUserByEmail(ctx, "writer@x.com")
	require.NoError(t, err)
	assert.Equal(t, RoleEditor, writer.Role)

	// Running again must not promote anyone else.
	require.NoError(t, m.Initialize(ctx))

	admins, err := m.CountUsersByRole(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), admins)
}

func TestPurgeExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager, clock *fakeClock) {
		ctx := context.Background()
		u := createUser(t, m, "a@x.com", RoleAdmin)

		_, err := m.CreateSession(ctx, u.ID)
		require.NoError(t, err)
		_, err = m.CreatePasswordResetToken(ctx, u.Email)
		require.NoError(t, err)
		_, err = m.CreateOAuthState(ctx, "")
		require.NoError(t, err)

		res, err := m.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, PurgeResult{}, res)

		clock.Advance(DefaultSessionTTL + time.Second)

		res, err = m.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, PurgeResult{Sessions: 1, ResetTokens: 1, OAuthStates: 1}, res)
	})
}

func TestOptions(t *testing.T) {
	m := NewManager(dbtest.Logger(), dbtest.NewSQLite(t),
		WithSessionTTL(time.Hour),
		WithResetTokenTTL(0),
	)

	assert.Equal(t, time.Hour, m.SessionTTL())
	assert.Equal(t, DefaultResetTokenTTL, m.resetTokenTTL)
	assert.Equal(t, DefaultOAuthStateTTL, m.oauthStateTTL)
}
