package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type fileSender struct {
	log logrus.FieldLogger
	dir string
	now func() time.Time
}

type fileMetadata struct {
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Tag       string `json:"tag"`
	ResetURL  string `json:"reset_url"`
}

// NewFile creates a Sender that writes each message to cfg.File.Dir as an
// HTML body plus a JSON metadata file.
func NewFile(log logrus.FieldLogger, cfg *config.MailConfig) (Sender, error) {
	if cfg.File.Dir == "" {
		return nil, fmt.Errorf("mail file directory is required")
	}

	dir, err := filepath.Abs(cfg.File.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving mail directory: %w", err)
	}

	return &fileSender{
		log: log.WithField("driver", config.MailDriverFile),
		dir: dir,
		now: time.Now,
	}, nil
}

func (s *fileSender) SendPasswordResetEmail(
	_ context.Context, to, resetURL string,
) (*Receipt, error) {
	body, err := renderReset(resetURL)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating directory: %w", ErrSendFailed, err)
	}

	id := uuid.NewString()
	now := s.now().UTC()
	base := now.Format("2006_01_02_150405") + "_" + resetTag + "_" + id[:8]

	htmlPath := filepath.Join(s.dir, base+".html")
	if err := os.WriteFile(htmlPath, []byte(body), 0o644); err != nil {
		return nil, fmt.Errorf("%w: writing body: %w", ErrSendFailed, err)
	}

	meta, err := json.MarshalIndent(fileMetadata{
		MessageID: id,
		Timestamp: now.Format(time.RFC3339),
		To:        to,
		Subject:   resetSubject,
		Tag:       resetTag,
		ResetURL:  resetURL,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encoding metadata: %w", ErrSendFailed, err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, base+".json"), meta, 0o644); err != nil {
		return nil, fmt.Errorf("%w: writing metadata: %w", ErrSendFailed, err)
	}

	preview := (&url.URL{Scheme: "file", Path: filepath.ToSlash(htmlPath)}).String()

	s.log.WithField("path", htmlPath).Info("Wrote password reset email")

	return &Receipt{MessageID: id, PreviewURL: preview}, nil
}
