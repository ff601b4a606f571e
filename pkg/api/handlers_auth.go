package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethpandaops/pressroom/pkg/auth"
	"github.com/ethpandaops/pressroom/pkg/token"
	"github.com/go-chi/chi/v5"
)

const resetRequestedMessage = "If an account exists for that email, a password reset link has been sent."

type installResponse struct {
	Installed bool `json:"installed"`
}

type setupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"max=200"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	User      *auth.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

type meResponse struct {
	User      *auth.User `json:"user"`
	ExpiresAt time.Time  `json:"expires_at"`
}

type passwordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type passwordResetResponse struct {
	Message  string `json:"message"`
	Token    string `json:"token,omitempty"`
	ResetURL string `json:"reset_url,omitempty"`
}

type validateResetResponse struct {
	Valid bool   `json:"valid"`
	Email string `json:"email,omitempty"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// handleCheckInstall reports whether the first account has been created.
func (s *server) handleCheckInstall(w http.ResponseWriter, r *http.Request) {
	installed, err := s.auth.HasAnyUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, installResponse{Installed: installed})
}

// handleSetup creates the first admin account and signs it in.
func (s *server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	s.installMu.Lock()

	user, err := s.createFirstAdmin(r, &req)

	s.installMu.Unlock()

	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if user == nil {
		writeJSON(w, http.StatusConflict, errorResponse{"already installed"})

		return
	}

	sess, err := s.auth.CreateSession(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.log.WithField("user_id", user.ID).Info("Initial admin created")

	s.startSession(w, r, http.StatusCreated, user, sess)
}

// createFirstAdmin returns nil without an error when an account exists.
// Callers hold installMu.
func (s *server) createFirstAdmin(r *http.Request, req *setupRequest) (*auth.User, error) {
	installed, err := s.auth.HasAnyUsers(r.Context())
	if err != nil || installed {
		return nil, err
	}

	var name *string
	if n := strings.TrimSpace(req.Name); n != "" {
		name = &n
	}

	return s.auth.CreateUser(r.Context(), auth.CreateUserParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     name,
		Role:     auth.RoleAdmin,
	})
}

// handleLogin authenticates with email and password and creates a session.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.startSession(w, r, http.StatusOK, result.User, result.Session)
}

func (s *server) startSession(
	w http.ResponseWriter, r *http.Request, status int, user *auth.User, sess *auth.Session,
) {
	setSessionCookie(w, r, sess, s.auth.SessionTTL())

	writeJSON(w, status, sessionResponse{
		User:      user,
		Token:     sess.ID,
		ExpiresAt: sess.ExpiresAt,
	})
}

// handleLogout deletes the current session. It always succeeds.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := sessionToken(r); id != "" {
		if err := s.auth.Logout(r.Context(), id); err != nil {
			s.log.WithError(err).Warn("Failed to delete session")
		}
	}

	clearSessionCookie(w, r)

	writeJSON(w, http.StatusOK, statusOK)
}

// handleMe returns the authenticated user. Sessions past half their
// lifetime are extended.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	expiresAt := sess.Session.ExpiresAt

	ttl := s.auth.SessionTTL()
	if expiresAt.Sub(s.now()) < ttl/2 {
		refreshed, err := s.auth.RefreshSession(r.Context(), sess.Session.ID)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		if refreshed != nil {
			expiresAt = refreshed.ExpiresAt
			setSessionCookie(w, r, refreshed, ttl)
		}
	}

	writeJSON(w, http.StatusOK, meResponse{User: sess.User, ExpiresAt: expiresAt})
}

// handleRequestPasswordReset issues a reset token and mails the link. The
// response is the same whether or not the account exists.
func (s *server) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	resp := passwordResetResponse{Message: resetRequestedMessage}

	t, err := s.auth.CreatePasswordResetToken(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if t == nil {
		writeJSON(w, http.StatusOK, resp)

		return
	}

	resetURL := s.resetURL(t.Token)

	if s.mailer == nil {
		// Without a mail backend the link is handed back to the caller.
		resp.Token = t.Token
		resp.ResetURL = resetURL

		writeJSON(w, http.StatusOK, resp)

		return
	}

	receipt, err := s.mailer.SendPasswordResetEmail(r.Context(), t.Email, resetURL)
	if err != nil {
		s.log.WithError(err).
			WithField("user_id", t.UserID).
			Error("Failed to send password reset email")
	} else {
		log := s.log.WithField("user_id", t.UserID).WithField("message_id", receipt.MessageID)
		if receipt.PreviewURL != "" {
			log = log.WithField("preview_url", receipt.PreviewURL)
		}

		log.Info("Password reset email sent")
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) resetURL(value string) string {
	base := strings.TrimRight(s.cfg.Server.PublicURL, "/")

	return base + s.cfg.Auth.PasswordResetPath + "?token=" + url.QueryEscape(value)
}

// handleValidateResetToken reports whether a reset token can still be used.
func (s *server) handleValidateResetToken(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "token")
	if !token.IsValid(value) {
		writeJSON(w, http.StatusOK, validateResetResponse{})

		return
	}

	t, err := s.auth.ValidatePasswordResetToken(r.Context(), value)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if t == nil {
		writeJSON(w, http.StatusOK, validateResetResponse{})

		return
	}

	writeJSON(w, http.StatusOK, validateResetResponse{Valid: true, Email: t.Email})
}

// handleResetPassword sets a new password with a reset token.
func (s *server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ok := false

	if token.IsValid(req.Token) {
		var err error

		ok, err = s.auth.ResetPasswordWithToken(r.Context(), req.Token, req.Password)
		if err != nil {
			s.writeError(w, r, err)

			return
		}
	}

	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid or expired reset token"})

		return
	}

	writeJSON(w, http.StatusOK, statusOK)
}

// handleChangePassword replaces the signed-in user's password.
func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.changePassword(r, userFromContext(r.Context()), &req); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSON(w, http.StatusBadRequest, errorResponse{"current password is incorrect"})

			return
		}

		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, statusOK)
}

func (s *server) changePassword(r *http.Request, user *auth.User, req *changePasswordRequest) error {
	if req.NewPassword == req.CurrentPassword {
		return auth.ErrPasswordUnchanged
	}

	if user.AuthProvider == auth.ProviderGitHub {
		return auth.ErrOAuthAccount
	}

	ok, err := s.auth.VerifyPassword(r.Context(), user.ID, req.CurrentPassword)
	if err != nil {
		return err
	}

	if !ok {
		return auth.ErrInvalidCredentials
	}

	if err := s.auth.UpdatePassword(r.Context(), user.ID, req.NewPassword); err != nil {
		return err
	}

	s.log.WithField("user_id", user.ID).Info("Password changed")

	return nil
}
