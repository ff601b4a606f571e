package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/pressroom/pkg/token"
)

// CreatePasswordResetToken issues a reset token for the account with email,
// replacing any earlier token for that account. It returns nil without an
// error when no account matches, so callers can answer every request the
// same way.
func (m *Manager) CreatePasswordResetToken(
	ctx context.Context, email string,
) (*PasswordResetToken, error) {
	if err := m.purgeExpired(ctx, "password_reset_tokens"); err != nil {
		return nil, err
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}

	var user userRow

	found, err := m.db.QueryOne(ctx, &user,
		"SELECT "+userColumns+" FROM users WHERE email = ?", email,
	)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	if !found {
		m.log.Debug("Password reset requested for unknown email")

		return nil, nil
	}

	if _, err := m.db.Run(ctx,
		"DELETE FROM password_reset_tokens WHERE user_id = ?", user.ID,
	); err != nil {
		return nil, fmt.Errorf("deleting previous reset tokens: %w", err)
	}

	value, err := token.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating reset token: %w", err)
	}

	now := m.now()
	t := &PasswordResetToken{
		Token:     value,
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: now.Add(m.resetTokenTTL),
		CreatedAt: now,
	}

	if _, err := m.db.Run(ctx,
		`INSERT INTO password_reset_tokens (token, user_id, email, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.Token, t.UserID, t.Email, t.ExpiresAt, t.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("creating reset token: %w", err)
	}

	m.log.WithField("user_id", user.ID).Info("Created password reset token")

	return t, nil
}

// ValidatePasswordResetToken returns the token if it exists and has not
// expired, or nil. It does not consume the token.
func (m *Manager) ValidatePasswordResetToken(
	ctx context.Context, value string,
) (*PasswordResetToken, error) {
	var row resetTokenRow

	found, err := m.db.QueryOne(ctx, &row,
		`SELECT token, user_id, email, expires_at, created_at
		FROM password_reset_tokens WHERE token = ? AND expires_at > ?`,
		value, m.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("getting reset token: %w", err)
	}

	if !found {
		return nil, nil
	}

	return row.toToken(), nil
}

// ResetPasswordWithToken sets a new password using a valid reset token. The
// token is consumed and every session of the user is ended. It reports
// false when the token is unknown or expired.
func (m *Manager) ResetPasswordWithToken(
	ctx context.Context, value, newPassword string,
) (bool, error) {
	if newPassword == "" {
		return false, fmt.Errorf("%w: password is required", ErrValidation)
	}

	t, err := m.ValidatePasswordResetToken(ctx, value)
	if err != nil {
		return false, err
	}

	if t == nil {
		return false, nil
	}

	if err := m.UpdatePassword(ctx, t.UserID, newPassword); err != nil {
		return false, err
	}

	if _, err := m.db.Run(ctx,
		"DELETE FROM password_reset_tokens WHERE user_id = ?", t.UserID,
	); err != nil {
		return false, fmt.Errorf("consuming reset token: %w", err)
	}

	if err := m.DeleteUserSessions(ctx, t.UserID); err != nil {
		return false, err
	}

	m.log.WithField("user_id", t.UserID).Info("Password reset")

	return true, nil
}
