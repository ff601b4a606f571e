package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every environment variable override.
	EnvPrefix = "PRESSROOM"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultSQLitePath is the default embedded database file.
	DefaultSQLitePath = "./data/pressroom.db"

	// DefaultSessionTTL is the default lifetime of a login session.
	DefaultSessionTTL = "168h"

	// DefaultResetTokenTTL is the default lifetime of a password reset link.
	DefaultResetTokenTTL = "1h"

	// DefaultOAuthStateTTL is the default lifetime of an OAuth CSRF state.
	DefaultOAuthStateTTL = "10m"

	// DefaultSessionCleanupInterval is how often expired rows are swept.
	DefaultSessionCleanupInterval = "15m"

	// DefaultLibSQLTimeout bounds a single request to a remote libSQL server.
	DefaultLibSQLTimeout = "10s"

	// DriverSQLite selects the embedded SQLite engine.
	DriverSQLite = "sqlite"

	// DriverLibSQL selects a remote libSQL server spoken to over HTTP.
	DriverLibSQL = "libsql"

	// MailDriverPostmark delivers mail through the Postmark API.
	MailDriverPostmark = "postmark"

	// MailDriverFile writes rendered mail to a local directory.
	MailDriverFile = "file"
)

// DefaultGitHubScopes are requested when no scopes are configured.
var DefaultGitHubScopes = []string{"repo"}

// Config is the root configuration for pressroom.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Mail     MailConfig     `yaml:"mail,omitempty" mapstructure:"mail"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string   `yaml:"listen" mapstructure:"listen"`
	PublicURL   string   `yaml:"public_url,omitempty" mapstructure:"public_url"`
	CORSOrigins []string `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
}

// DatabaseConfig selects and configures the database backend.
type DatabaseConfig struct {
	Driver string               `yaml:"driver" mapstructure:"driver"`
	SQLite SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	LibSQL LibSQLDatabaseConfig `yaml:"libsql,omitempty" mapstructure:"libsql"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LibSQLDatabaseConfig contains settings for a remote libSQL server.
type LibSQLDatabaseConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	AuthToken string `yaml:"auth_token,omitempty" mapstructure:"auth_token"`
	Timeout   string `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	SessionTTL             string           `yaml:"session_ttl" mapstructure:"session_ttl"`
	ResetTokenTTL          string           `yaml:"reset_token_ttl" mapstructure:"reset_token_ttl"`
	OAuthStateTTL          string           `yaml:"oauth_state_ttl" mapstructure:"oauth_state_ttl"`
	SessionCleanupInterval string           `yaml:"session_cleanup_interval" mapstructure:"session_cleanup_interval"`
	PasswordResetPath      string           `yaml:"password_reset_path" mapstructure:"password_reset_path"`
	GitHub                 GitHubAuthConfig `yaml:"github,omitempty" mapstructure:"github"`
}

// GitHubAuthConfig configures GitHub OAuth authentication.
type GitHubAuthConfig struct {
	Enabled             bool     `yaml:"enabled" mapstructure:"enabled"`
	ClientID            string   `yaml:"client_id,omitempty" mapstructure:"client_id"`
	ClientSecret        string   `yaml:"client_secret,omitempty" mapstructure:"client_secret"`
	CallbackURL         string   `yaml:"callback_url,omitempty" mapstructure:"callback_url"`
	Scopes              []string `yaml:"scopes,omitempty" mapstructure:"scopes"`
	Repository          string   `yaml:"repository,omitempty" mapstructure:"repository"`
	RequireCollaborator bool     `yaml:"require_collaborator" mapstructure:"require_collaborator"`
}

// MailConfig configures outbound mail. An empty driver disables mail.
type MailConfig struct {
	Driver   string             `yaml:"driver,omitempty" mapstructure:"driver"`
	From     string             `yaml:"from,omitempty" mapstructure:"from"`
	ReplyTo  string             `yaml:"reply_to,omitempty" mapstructure:"reply_to"`
	Postmark PostmarkMailConfig `yaml:"postmark,omitempty" mapstructure:"postmark"`
	File     FileMailConfig     `yaml:"file,omitempty" mapstructure:"file"`
}

// PostmarkMailConfig holds Postmark API credentials.
type PostmarkMailConfig struct {
	ServerToken  string `yaml:"server_token,omitempty" mapstructure:"server_token"`
	AccountToken string `yaml:"account_token,omitempty" mapstructure:"account_token"`
}

// FileMailConfig configures the development file mailer.
type FileMailConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// Load reads the given configuration files in order, later files
// overriding earlier ones, and applies PRESSROOM_* environment overrides.
// With no files, defaults and environment variables alone are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.libsql.url", "")
	v.SetDefault("database.libsql.auth_token", "")
	v.SetDefault("database.libsql.timeout", DefaultLibSQLTimeout)

	v.SetDefault("auth.session_ttl", DefaultSessionTTL)
	v.SetDefault("auth.reset_token_ttl", DefaultResetTokenTTL)
	v.SetDefault("auth.oauth_state_ttl", DefaultOAuthStateTTL)
	v.SetDefault("auth.session_cleanup_interval", DefaultSessionCleanupInterval)
	v.SetDefault("auth.password_reset_path", "/reset-password")
	v.SetDefault("auth.github.enabled", false)
	v.SetDefault("auth.github.client_id", "")
	v.SetDefault("auth.github.client_secret", "")
	v.SetDefault("auth.github.callback_url", "")
	v.SetDefault("auth.github.scopes", DefaultGitHubScopes)
	v.SetDefault("auth.github.repository", "")
	v.SetDefault("auth.github.require_collaborator", false)

	v.SetDefault("mail.driver", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.reply_to", "")
	v.SetDefault("mail.postmark.server_token", "")
	v.SetDefault("mail.postmark.account_token", "")
	v.SetDefault("mail.file.dir", "")
}

// applyDefaults fills values that may have been explicitly blanked.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}

	if c.Database.LibSQL.Timeout == "" {
		c.Database.LibSQL.Timeout = DefaultLibSQLTimeout
	}

	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Auth.ResetTokenTTL == "" {
		c.Auth.ResetTokenTTL = DefaultResetTokenTTL
	}

	if c.Auth.OAuthStateTTL == "" {
		c.Auth.OAuthStateTTL = DefaultOAuthStateTTL
	}

	if len(c.Auth.GitHub.Scopes) == 0 {
		c.Auth.GitHub.Scopes = append([]string(nil), DefaultGitHubScopes...)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("database.sqlite.path is required"))
		}
	case DriverLibSQL:
		if c.Database.LibSQL.URL == "" {
			errs = append(errs, fmt.Errorf("database.libsql.url is required"))
		} else if _, err := url.Parse(c.Database.LibSQL.URL); err != nil {
			errs = append(errs, fmt.Errorf("database.libsql.url: %w", err))
		}

		if _, err := time.ParseDuration(c.Database.LibSQL.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("database.libsql.timeout: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf(
			"unsupported database driver %q (use %q or %q)",
			c.Database.Driver, DriverSQLite, DriverLibSQL,
		))
	}

	durations := map[string]string{
		"auth.session_ttl":     c.Auth.SessionTTL,
		"auth.reset_token_ttl":  c.Auth.ResetTokenTTL,
		"auth.oauth_state_ttl": c.Auth.OAuthStateTTL,
	}

	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))

			continue
		}

		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}

	if c.Auth.SessionCleanupInterval != "" {
		if _, err := time.ParseDuration(c.Auth.SessionCleanupInterval); err != nil {
			errs = append(errs, fmt.Errorf("auth.session_cleanup_interval: %w", err))
		}
	}

	if gh := c.Auth.GitHub; gh.Enabled {
		if gh.ClientID == "" || gh.ClientSecret == "" {
			errs = append(errs, fmt.Errorf(
				"auth.github.client_id and auth.github.client_secret are required",
			))
		}

		if gh.CallbackURL == "" {
			errs = append(errs, fmt.Errorf("auth.github.callback_url is required"))
		}

		if gh.RequireCollaborator {
			if _, _, err := gh.OwnerRepo(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	switch c.Mail.Driver {
	case "":
	case MailDriverPostmark:
		if c.Mail.Postmark.ServerToken == "" {
			errs = append(errs, fmt.Errorf("mail.postmark.server_token is required"))
		}

		if c.Mail.From == "" {
			errs = append(errs, fmt.Errorf("mail.from is required"))
		}
	case MailDriverFile:
		if c.Mail.File.Dir == "" {
			errs = append(errs, fmt.Errorf("mail.file.dir is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported mail driver %q", c.Mail.Driver))
	}

	return errors.Join(errs...)
}

// OwnerRepo splits the configured "owner/repo" repository.
func (g GitHubAuthConfig) OwnerRepo() (string, string, error) {
	owner, repo, ok := strings.Cut(g.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf(
			"auth.github.repository must be in owner/repo form, got %q",
			g.Repository,
		)
	}

	return owner, repo, nil
}

// SessionTTLDuration returns the parsed session lifetime.
func (a AuthConfig) SessionTTLDuration() time.Duration {
	return parseDurationOr(a.SessionTTL, DefaultSessionTTL)
}

// ResetTokenTTLDuration returns the parsed password reset link lifetime.
func (a AuthConfig) ResetTokenTTLDuration() time.Duration {
	return parseDurationOr(a.ResetTokenTTL, DefaultResetTokenTTL)
}

// OAuthStateTTLDuration returns the parsed OAuth state lifetime.
func (a AuthConfig) OAuthStateTTLDuration() time.Duration {
	return parseDurationOr(a.OAuthStateTTL, DefaultOAuthStateTTL)
}

// CleanupInterval returns the sweeper interval; zero disables the sweeper.
func (a AuthConfig) CleanupInterval() time.Duration {
	if a.SessionCleanupInterval == "" {
		return 0
	}

	d, err := time.ParseDuration(a.SessionCleanupInterval)
	if err != nil {
		return 0
	}

	return d
}

// TimeoutDuration returns the parsed per-request timeout.
func (l LibSQLDatabaseConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(l.Timeout, DefaultLibSQLTimeout)
}

func parseDurationOr(value, fallback string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}

	return d
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Auth.GitHub.Scopes = append([]string(nil), c.Auth.GitHub.Scopes...)

	mask := func(s *string) {
		if *s != "" {
			*s = "REDACTED"
		}
	}

	mask(&out.Database.LibSQL.AuthToken)
	mask(&out.Auth.GitHub.ClientSecret)
	mask(&out.Mail.Postmark.ServerToken)
	mask(&out.Mail.Postmark.AccountToken)

	return out
}
