// Package github implements the GitHub OAuth web flow and the few REST
// calls needed to link and gate accounts.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

const (
	// DefaultAPIBaseURL is the public GitHub REST endpoint.
	DefaultAPIBaseURL = "https://api.github.com"

	httpTimeout = 10 * time.Second
	apiVersion  = "2022-11-28"
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"repo"}

// Config holds OAuth app credentials. Empty URL fields use GitHub's public
// endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL    string
	TokenURL   string
	APIBaseURL string
}

// ProviderError is a failure reported by GitHub or while talking to it.
type ProviderError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("github %s failed (status %d): %s", e.Op, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("github %s failed: %s", e.Op, e.Message)
}

// Token is the result of a code exchange.
type Token struct {
	AccessToken string
	TokenType   string
	Scope       string
}

// User is a GitHub profile. Email may be empty when the account exposes no
// verified address.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Client talks to GitHub on behalf of the OAuth app.
type Client struct {
	log        logrus.FieldLogger
	oauth      *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every GitHub request.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a Client for cfg.
func NewClient(log logrus.FieldLogger, cfg Config, opts ...Option) *Client {
	endpoint := oauth2.Endpoint{
		AuthURL:   githuboauth.Endpoint.AuthURL,
		TokenURL:  githuboauth.Endpoint.TokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}

	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}

	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}

	c := &Client{
		log: log.WithField("component", "github"),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		apiBaseURL: apiBase,
		httpClient: &http.Client{Timeout: httpTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// AuthorizationURL returns the GitHub consent page URL carrying state.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for an access token. Errors in
// the token response surface as *ProviderError with GitHub's description.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	tok, err := c.oauth.Exchange(c.clientContext(ctx), code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			msg := rerr.ErrorDescription
			if msg == "" {
				msg = rerr.ErrorCode
			}

			if msg == "" {
				msg = strings.TrimSpace(string(rerr.Body))
			}

			status := 0
			if rerr.Response != nil {
				status = rerr.Response.StatusCode
			}

			return nil, &ProviderError{Op: "token exchange", StatusCode: status, Message: msg}
		}

		return nil, &ProviderError{Op: "token exchange", Message: err.Error()}
	}

	out := &Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	}

	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}

	return out, nil
}

type email struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchUser returns the profile of the token's owner. A hidden profile
// email is resolved through the emails endpoint, preferring a primary
// verified address, then any verified one.
func (c *Client) FetchUser(ctx context.Context, accessToken string) (*User, error) {
	var user User

	status, err := c.getJSON(ctx, accessToken, "/user", &user)
	if err != nil {
		return nil, &ProviderError{Op: "fetch user", Message: err.Error()}
	}

	if status != http.StatusOK {
		return nil, &ProviderError{
			Op:         "fetch user",
			StatusCode: status,
			Message:    http.StatusText(status),
		}
	}

	if user.Email != "" {
		return &user, nil
	}

	var emails []email

	status, err = c.getJSON(ctx, accessToken, "/user/emails", &emails)
	if err != nil || status != http.StatusOK {
		// Without the user:email scope this endpoint is forbidden.
		c.log.WithError(err).WithField("status", status).
			Debug("Could not list GitHub emails")

		return &user, nil
	}

	user.Email = pickEmail(emails)

	return &user, nil
}

func pickEmail(emails []email) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}

	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}

	return ""
}

// CheckCollaboratorAccess reports whether username may push to owner/repo.
// The collaborator endpoint is asked first. If it says no, the repository's
// permissions.push flag for the token's owner decides. Failures during
// that second step count as no access.
func (c *Client) CheckCollaboratorAccess(
	ctx context.Context, accessToken, owner, repo, username string,
) (bool, error) {
	repoPath := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)

	status, err := c.getJSON(ctx, accessToken,
		repoPath+"/collaborators/"+url.PathEscape(username), nil,
	)
	if err != nil {
		return false, &ProviderError{Op: "collaborator check", Message: err.Error()}
	}

	if status == http.StatusNoContent {
		return true, nil
	}

	var repository struct {
		Permissions struct {
			Push bool `json:"push"`
		} `json:"permissions"`
	}

	status, err = c.getJSON(ctx, accessToken, repoPath, &repository)
	if err != nil || status != http.StatusOK {
		c.log.WithError(err).
			WithField("status", status).
			WithField("repository", owner+"/"+repo).
			Debug("Repository permission check failed")

		return false, nil
	}

	return repository.Permissions.Push, nil
}

// getJSON performs an authenticated GET. dest is decoded only on 200.
func (c *Client) getJSON(ctx context.Context, accessToken, path string, dest any) (int, error) {
	httpClient := oauth2.NewClient(c.clientContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK || dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding %s: %w", path, err)
	}

	return resp.StatusCode, nil
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}
