// Package api serves the pressroom HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/pressroom/pkg/auth"
	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/ethpandaops/pressroom/pkg/db"
	"github.com/ethpandaops/pressroom/pkg/github"
	"github.com/ethpandaops/pressroom/pkg/mail"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	db       db.Adapter
	auth     *auth.Manager
	github   *github.Client
	mailer   mail.Sender
	validate *validator.Validate
	now      func() time.Time

	// installMu serializes the checks that grant the first account the
	// admin role.
	installMu sync.Mutex

	httpServer *http.Server
	group      *errgroup.Group
	cancel     context.CancelFunc
}

// NewServer creates a new API server.
func NewServer(log logrus.FieldLogger, cfg *config.Config) Server {
	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		validate: newValidator(),
		now:      time.Now,
	}
}

// Start opens the database, prepares the schema and starts serving.
func (s *server) Start(ctx context.Context) error {
	adapter, err := db.Open(ctx, s.log, &s.cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = adapter

	s.auth = NewAuthManager(s.log, adapter, &s.cfg.Auth)
	if err := s.auth.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	if s.cfg.Auth.GitHub.Enabled {
		s.github = github.NewClient(s.log, github.Config{
			ClientID:     s.cfg.Auth.GitHub.ClientID,
			ClientSecret: s.cfg.Auth.GitHub.ClientSecret,
			CallbackURL:  s.cfg.Auth.GitHub.CallbackURL,
			Scopes:       s.cfg.Auth.GitHub.Scopes,
		})

		s.log.Info("GitHub sign-in enabled")
	}

	s.mailer, err = mail.New(s.log, &s.cfg.Mail)
	if err != nil {
		return fmt.Errorf("configuring mail: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, runCtx = errgroup.WithContext(runCtx)

	s.group.Go(func() error {
		s.log.WithField("listen", ln.Addr().String()).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}

		return nil
	})

	if interval := s.cfg.Auth.CleanupInterval(); interval > 0 {
		s.group.Go(func() error {
			s.runSweeper(runCtx, interval)

			return nil
		})
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the database.
func (s *server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	var runErr error
	if s.group != nil {
		runErr = s.group.Wait()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return errors.Join(runErr, fmt.Errorf("closing database: %w", err))
		}
	}

	s.log.Info("API server stopped")

	return runErr
}

// runSweeper purges expired rows until ctx is done. Reads already skip
// expired rows, so this only bounds table growth.
func (s *server) runSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.auth.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("Failed to purge expired rows")
			}
		case <-ctx.Done():
			return
		}
	}
}

// NewAuthManager builds an auth.Manager with the lifetimes from cfg.
func NewAuthManager(log logrus.FieldLogger, adapter db.Adapter, cfg *config.AuthConfig) *auth.Manager {
	return auth.NewManager(log, adapter,
		auth.WithSessionTTL(cfg.SessionTTLDuration()),
		auth.WithResetTokenTTL(cfg.ResetTokenTTLDuration()),
		auth.WithOAuthStateTTL(cfg.OAuthStateTTLDuration()),
	)
}
