package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethpandaops/pressroom/pkg/auth"
	"github.com/ethpandaops/pressroom/pkg/token"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const sessionContextKey contextKey = "session"

// sessionCookieName carries the session id for browser clients.
const sessionCookieName = "pressroom_session"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", ww.Status()).
			WithField("request_id", chimw.GetReqID(r.Context())).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// sessionToken returns the session id from a Bearer header or the session
// cookie. Strings that cannot be a session id are ignored.
func sessionToken(r *http.Request) string {
	var value string

	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		value = strings.TrimSpace(header[len("Bearer "):])
	} else if cookie, err := r.Cookie(sessionCookieName); err == nil {
		value = cookie.Value
	}

	if !token.IsValid(value) {
		return ""
	}

	return value
}

// requireAuth resolves the session and injects it into the request context.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sessionToken(r)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		sess, err := s.auth.GetSession(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		if sess == nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid or expired session"})

			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole checks that the authenticated user has the specified role.
func (s *server) requireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromContext(r.Context())
			if user == nil || user.Role != role {
				writeJSON(w, http.StatusForbidden,
					errorResponse{"insufficient permissions"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// sessionFromContext extracts the authenticated session from the context.
func sessionFromContext(ctx context.Context) *auth.AuthSession {
	sess, _ := ctx.Value(sessionContextKey).(*auth.AuthSession)

	return sess
}

// userFromContext extracts the authenticated user from the request context.
func userFromContext(ctx context.Context) *auth.User {
	if sess := sessionFromContext(ctx); sess != nil {
		return sess.User
	}

	return nil
}

// setSessionCookie stores the session id in the browser.
func setSessionCookie(w http.ResponseWriter, r *http.Request, sess *auth.Session, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(ttl.Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   -1,
	})
}
