package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethpandaops/pressroom/pkg/auth"
	"github.com/ethpandaops/pressroom/pkg/github"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// statusResponse acknowledges a request with no other payload.
type statusResponse struct {
	Status string `json:"status"`
}

var statusOK = statusResponse{Status: "ok"}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps err onto a status code. Unclassified errors are logged
// and answered with a generic message so storage details never leak.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var providerErr *github.ProviderError

	switch {
	case errors.Is(err, auth.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{auth.ErrInvalidCredentials.Error()})
	case errors.Is(err, auth.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})
	case errors.Is(err, auth.ErrEmailTaken):
		writeJSON(w, http.StatusConflict, errorResponse{auth.ErrEmailTaken.Error()})
	case errors.Is(err, auth.ErrLastAdmin):
		writeJSON(w, http.StatusBadRequest, errorResponse{"Cannot demote the last admin user"})
	case errors.Is(err, auth.ErrOAuthAccount), errors.Is(err, auth.ErrPasswordUnchanged):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case errors.As(err, &providerErr):
		s.log.WithError(err).Warn("GitHub request failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{providerErr.Message})
	default:
		s.log.WithError(err).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})
	}
}

// newValidator returns a validator that reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// decodeAndValidate reads a JSON body into dst and validates it. On
// failure the response has been written and false is returned.
func (s *server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request body"})

		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{validationMessage(err)})

		return false
	}

	return true
}

// validationMessage renders the first failed rule of err.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]

	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusOK)
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		return 0, fmt.Errorf("id parameter is required")
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", idStr)
	}

	return id, nil
}
