package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/pressroom/pkg/password"
)

// List limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// CreateUserParams describes a new password account.
type CreateUserParams struct {
	Email    string
	Password string
	Name     *string
	Role     Role
}

// UpdateUserParams is a partial update. Nil fields are left untouched.
type UpdateUserParams struct {
	Name     *string
	Email    *string
	Role     *Role
	Password *string
}

// ListUsersParams selects a page of users.
type ListUsersParams struct {
	Page  int
	Limit int
}

// HasAnyUsers reports whether at least one account exists.
func (m *Manager) HasAnyUsers(ctx context.Context) (bool, error) {
	n, err := m.count(ctx, "SELECT COUNT(*) AS n FROM users")
	if err != nil {
		return false, fmt.Errorf("counting users: %w", err)
	}

	return n > 0, nil
}

// CreateUser creates a password account. Role defaults to editor.
func (m *Manager) CreateUser(ctx context.Context, p CreateUserParams) (*User, error) {
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}

	if p.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrValidation)
	}

	role := p.Role
	if role == "" {
		role = RoleEditor
	}

	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	if err := m.ensureEmailFree(ctx, email, 0); err != nil {
		return nil, err
	}

	hash, err := password.Hash(p.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	var inserted struct {
		ID int64 `db:"id"`
	}

	if _, err := m.db.QueryOne(ctx, &inserted,
		`INSERT INTO users (email, password_hash, name, role, auth_provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		email, hash, p.Name, string(role), string(ProviderPassword), m.now(),
	); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	m.log.WithField("user_id", inserted.ID).
		WithField("role", role).
		Info("Created user")

	return m.GetUserByID(ctx, inserted.ID)
}

// GetUserByID returns the user with the given id or ErrNotFound.
func (m *Manager) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row, err := m.userRow(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}

	return row.toUser(), nil
}

// GetUserByEmail returns the user with the given email or ErrNotFound.
func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row, err := m.userRow(ctx, "email = ?", email)
	if err != nil {
		return nil, err
	}

	return row.toUser(), nil
}

// UpdateUser applies a partial update in a single statement. Every check
// runs before the write, so a rejected update leaves the user unchanged.
// Demoting the only admin fails with ErrLastAdmin and setting a password on
// an OAuth account fails with ErrOAuthAccount.
func (m *Manager) UpdateUser(ctx context.Context, id int64, p UpdateUserParams) (*User, error) {
	current, err := m.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		sets []string
		args []any
	)

	if p.Role != nil {
		if !p.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, *p.Role)
		}

		if current.Role == RoleAdmin && *p.Role != RoleAdmin {
			admins, err := m.CountUsersByRole(ctx, RoleAdmin)
			if err != nil {
				return nil, err
			}

			if admins <= 1 {
				return nil, ErrLastAdmin
			}
		}

		sets = append(sets, "role = ?")
		args = append(args, string(*p.Role))
	}

	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		if email == "" {
			return nil, fmt.Errorf("%w: email must not be empty", ErrValidation)
		}

		if email != current.Email {
			if err := m.ensureEmailFree(ctx, email, id); err != nil {
				return nil, err
			}
		}

		sets = append(sets, "email = ?")
		args = append(args, email)
	}

	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, nullable(strings.TrimSpace(*p.Name)))
	}

	if p.Password != nil {
		if current.AuthProvider != ProviderPassword {
			return nil, ErrOAuthAccount
		}

		if *p.Password == "" {
			return nil, fmt.Errorf("%w: password must not be empty", ErrValidation)
		}

		hash, err := password.Hash(*p.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}

		sets = append(sets, "password_hash = ?")
		args = append(args, hash)
	}

	if len(sets) == 0 {
		return current, nil
	}

	args = append(args, id)

	if _, err := m.db.Run(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...,
	); err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}

	return m.GetUserByID(ctx, id)
}

// DeleteUser removes a user together with its sessions, reset tokens and
// OAuth tokens. Callers enforce who may be deleted.
func (m *Manager) DeleteUser(ctx context.Context, id int64) error {
	if _, err := m.GetUserByID(ctx, id); err != nil {
		return err
	}

	for _, table := range []string{"sessions", "password_reset_tokens", "oauth_tokens"} {
		if _, err := m.db.Run(ctx, "DELETE FROM "+table+" WHERE user_id = ?", id); err != nil {
			return fmt.Errorf("deleting %s for user: %w", table, err)
		}
	}

	if _, err := m.db.Run(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	m.log.WithField("user_id", id).Info("Deleted user")

	return nil
}

// CountUsersByRole counts users holding role.
func (m *Manager) CountUsersByRole(ctx context.Context, role Role) (int64, error) {
	n, err := m.count(ctx, "SELECT COUNT(*) AS n FROM users WHERE role = ?", string(role))
	if err != nil {
		return 0, fmt.Errorf("counting users by role: %w", err)
	}

	return n, nil
}

// ListUsers returns one page of users, newest first.
func (m *Manager) ListUsers(ctx context.Context, p ListUsersParams) (*UserList, error) {
	page, limit := p.Page, p.Limit
	if page < 1 {
		page = 1
	}

	if limit < 1 {
		limit = DefaultListLimit
	}

	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	total, err := m.count(ctx, "SELECT COUNT(*) AS n FROM users")
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	var rows []userRow
	if err := m.db.QueryAll(ctx, &rows,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, (page-1)*limit,
	); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	users := make([]User, 0, len(rows))
	for i := range rows {
		users = append(users, *rows[i].toUser())
	}

	return &UserList{
		Users: users,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + int64(limit) - 1) / int64(limit),
		},
	}, nil
}

// UpdatePassword replaces a user's password.
func (m *Manager) UpdatePassword(ctx context.Context, userID int64, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	res, err := m.db.Run(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", hash, userID)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	if res.RowsChanged == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	return nil
}

// VerifyPassword checks pw against the user's stored hash. Accounts without
// a password never verify.
func (m *Manager) VerifyPassword(ctx context.Context, userID int64, pw string) (bool, error) {
	row, err := m.userRow(ctx, "id = ?", userID)
	if err != nil {
		return false, err
	}

	if row.PasswordHash == nil {
		return false, nil
	}

	return password.Verify(pw, *row.PasswordHash), nil
}

func (m *Manager) userRow(ctx context.Context, where string, args ...any) (*userRow, error) {
	var row userRow

	found, err := m.db.QueryOne(ctx, &row,
		"SELECT "+userColumns+" FROM users WHERE "+where, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	if !found {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}

	return &row, nil
}

// ensureEmailFree fails with ErrEmailTaken when email belongs to a user
// other than exceptID.
func (m *Manager) ensureEmailFree(ctx context.Context, email string, exceptID int64) error {
	n, err := m.count(ctx,
		"SELECT COUNT(*) AS n FROM users WHERE email = ? AND id != ?", email, exceptID,
	)
	if err != nil {
		return fmt.Errorf("checking email: %w", err)
	}

	if n > 0 {
		return ErrEmailTaken
	}

	return nil
}
