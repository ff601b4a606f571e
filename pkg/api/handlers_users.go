package api

import (
	"net/http"
	"strconv"

	"github.com/ethpandaops/pressroom/pkg/auth"
)

type createUserRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8"`
	Name     *string `json:"name" validate:"omitempty,max=200"`
	Role     string  `json:"role" validate:"omitempty,oneof=admin editor"`
}

type updateUserRequest struct {
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	Name     *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Role     *string `json:"role,omitempty" validate:"omitempty,oneof=admin editor"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=8"`
}

// handleListUsers returns one page of users, newest first.
func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"page must be a positive integer"})

		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"limit must be a positive integer"})

		return
	}

	list, err := s.auth.ListUsers(r.Context(), auth.ListUsersParams{Page: page, Limit: limit})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, list)
}

// queryInt reads an optional positive integer query parameter.
func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, strconv.ErrSyntax
	}

	return n, nil
}

// handleCreateUser creates a password account.
func (s *server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := s.auth.CreateUser(r.Context(), auth.CreateUserParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     auth.Role(req.Role),
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.log.WithField("user_id", user.ID).
		WithField("created_by", userFromContext(r.Context()).ID).
		Info("User created")

	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user.
func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	user, err := s.auth.GetUserByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser applies a partial update. The request is applied whole
// or not at all: demoting the last admin or setting a password on a GitHub
// account rejects every field.
func (s *server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var req updateUserRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	params := auth.UpdateUserParams{Name: req.Name, Email: req.Email, Password: req.Password}
	if req.Role != nil {
		role := auth.Role(*req.Role)
		params.Role = &role
	}

	user, err := s.auth.UpdateUser(r.Context(), id, params)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes a user. Admins cannot delete themselves or the
// last admin.
func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if current := userFromContext(r.Context()); current != nil && current.ID == id {
		writeJSON(w, http.StatusBadRequest, errorResponse{"cannot delete your own account"})

		return
	}

	user, err := s.auth.GetUserByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if user.Role == auth.RoleAdmin {
		admins, err := s.auth.CountUsersByRole(r.Context(), auth.RoleAdmin)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		if admins <= 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"Cannot delete the last admin user"})

			return
		}
	}

	if err := s.auth.DeleteUser(r.Context(), id); err != nil {
		s.writeError(w, r, err)

		return
	}

	s.log.WithField("user_id", id).
		WithField("email", user.Email).
		Info("User deleted")

	writeJSON(w, http.StatusOK, statusOK)
}
