// Package mail delivers password reset emails.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/sirupsen/logrus"
)

// ErrSendFailed wraps every delivery failure.
var ErrSendFailed = errors.New("failed to send email")

const (
	resetSubject = "Reset your password"
	resetTag     = "password-reset"
)

// Receipt identifies a sent message. PreviewURL is set by backends that
// keep a local copy.
type Receipt struct {
	MessageID  string `json:"message_id"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// Sender sends transactional email.
type Sender interface {
	SendPasswordResetEmail(ctx context.Context, to, resetURL string) (*Receipt, error)
}

// New returns the Sender selected by cfg.Driver, or nil when no driver is
// configured.
func New(log logrus.FieldLogger, cfg *config.MailConfig) (Sender, error) {
	log = log.WithField("component", "mail")

	switch cfg.Driver {
	case "":
		log.Info("No mail driver configured, reset tokens are returned in API responses")

		return nil, nil
	case config.MailDriverPostmark:
		return NewPostmark(log, cfg)
	case config.MailDriverFile:
		return NewFile(log, cfg)
	default:
		return nil, fmt.Errorf("unsupported mail driver: %s", cfg.Driver)
	}
}

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.5;">
<p>Someone asked to reset the password for this account.</p>
<p><a href="{{.URL}}">Choose a new password</a></p>
<p>The link expires soon and works once. If you did not ask for this, ignore this email.</p>
<p style="color: #666; font-size: 12px;">{{.URL}}</p>
</body>
</html>
`))

func renderReset(resetURL string) (string, error) {
	var buf bytes.Buffer

	if err := resetTemplate.Execute(&buf, struct{ URL string }{URL: resetURL}); err != nil {
		return "", fmt.Errorf("rendering reset email: %w", err)
	}

	return buf.String(), nil
}
