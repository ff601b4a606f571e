package api

import (
	"net/http"
	"strings"

	"github.com/ethpandaops/pressroom/pkg/auth"
	"github.com/ethpandaops/pressroom/pkg/github"
)

type githubConfigResponse struct {
	Enabled             bool     `json:"enabled"`
	ClientID            string   `json:"client_id,omitempty"`
	CallbackURL         string   `json:"callback_url,omitempty"`
	Scopes              []string `json:"scopes,omitempty"`
	Repository          string   `json:"repository,omitempty"`
	RequireCollaborator bool     `json:"require_collaborator"`
}

// handleGitHubConfig returns the public part of the GitHub settings.
func (s *server) handleGitHubConfig(w http.ResponseWriter, _ *http.Request) {
	gh := s.cfg.Auth.GitHub
	if s.github == nil {
		writeJSON(w, http.StatusOK, githubConfigResponse{})

		return
	}

	writeJSON(w, http.StatusOK, githubConfigResponse{
		Enabled:             true,
		ClientID:            gh.ClientID,
		CallbackURL:         gh.CallbackURL,
		Scopes:              gh.Scopes,
		Repository:          gh.Repository,
		RequireCollaborator: gh.RequireCollaborator,
	})
}

// handleGitHubAuth initiates the GitHub OAuth flow. An optional relative
// ?redirect= path is restored after sign-in.
func (s *server) handleGitHubAuth(w http.ResponseWriter, r *http.Request) {
	state, err := s.auth.CreateOAuthState(r.Context(), safeRedirect(r.URL.Query().Get("redirect")))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	http.Redirect(w, r, s.github.AuthorizationURL(state.State), http.StatusTemporaryRedirect)
}

// safeRedirect keeps only same-site absolute paths.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") ||
		strings.Contains(target, `\`) {
		return ""
	}

	return target
}

// handleGitHubCallback completes the OAuth flow and signs the user in.
func (s *server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if e := query.Get("error"); e != "" {
		msg := query.Get("error_description")
		if msg == "" {
			msg = e
		}

		writeJSON(w, http.StatusBadRequest, errorResponse{"github authorization failed: " + msg})

		return
	}

	state, err := s.auth.ConsumeOAuthState(r.Context(), query.Get("state"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if state == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid or expired oauth state"})

		return
	}

	code := query.Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"missing authorization code"})

		return
	}

	tok, err := s.github.ExchangeCode(r.Context(), code)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	ghUser, err := s.github.FetchUser(r.Context(), tok.AccessToken)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	log := s.log.WithField("github_login", ghUser.Login)

	if s.cfg.Auth.GitHub.RequireCollaborator {
		allowed, err := s.checkCollaborator(r, tok.AccessToken, ghUser.Login)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		if !allowed {
			log.Info("GitHub user denied: not a repository collaborator")
			writeJSON(w, http.StatusForbidden, errorResponse{"repository access required"})

			return
		}
	}

	user, err := s.linkGitHubUser(r, ghUser)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := s.auth.StoreOAuthToken(
		r.Context(), user.ID, auth.ProviderGitHub, tok.AccessToken, tok.Scope,
	); err != nil {
		s.writeError(w, r, err)

		return
	}

	sess, err := s.auth.CreateSession(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	setSessionCookie(w, r, sess, s.auth.SessionTTL())

	log.WithField("user_id", user.ID).Info("GitHub sign-in")

	target := state.RedirectURI
	if target == "" {
		target = "/"
	}

	http.Redirect(w, r, strings.TrimRight(s.cfg.Server.PublicURL, "/")+target, http.StatusFound)
}

func (s *server) checkCollaborator(r *http.Request, accessToken, login string) (bool, error) {
	owner, repo, err := s.cfg.Auth.GitHub.OwnerRepo()
	if err != nil {
		return false, err
	}

	return s.github.CheckCollaboratorAccess(r.Context(), accessToken, owner, repo, login)
}

// linkGitHubUser finds or creates the account for a GitHub profile. The
// first account ever created becomes an admin.
func (s *server) linkGitHubUser(r *http.Request, u *github.User) (*auth.User, error) {
	s.installMu.Lock()
	defer s.installMu.Unlock()

	installed, err := s.auth.HasAnyUsers(r.Context())
	if err != nil {
		return nil, err
	}

	role := auth.RoleEditor
	if !installed {
		role = auth.RoleAdmin
	}

	return s.auth.FindOrCreateGitHubUser(r.Context(), auth.GitHubIdentity{
		ID:        u.ID,
		Login:     u.Login,
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
	}, role)
}
