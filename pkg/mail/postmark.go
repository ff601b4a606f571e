package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/mrz1836/postmark"
	"github.com/sirupsen/logrus"
)

type postmarkSender struct {
	log     logrus.FieldLogger
	client  *postmark.Client
	from    string
	replyTo string
}

// NewPostmark creates a Sender backed by the Postmark API.
func NewPostmark(log logrus.FieldLogger, cfg *config.MailConfig) (Sender, error) {
	if cfg.Postmark.ServerToken == "" {
		return nil, errors.New("postmark server token is required")
	}

	if cfg.From == "" {
		return nil, errors.New("mail from address is required")
	}

	return newPostmarkSender(
		log,
		postmark.NewClient(cfg.Postmark.ServerToken, cfg.Postmark.AccountToken),
		cfg,
	), nil
}

func newPostmarkSender(log logrus.FieldLogger, client *postmark.Client, cfg *config.MailConfig) *postmarkSender {
	return &postmarkSender{
		log:     log.WithField("driver", config.MailDriverPostmark),
		client:  client,
		from:    cfg.From,
		replyTo: cfg.ReplyTo,
	}
}

func (s *postmarkSender) SendPasswordResetEmail(
	ctx context.Context, to, resetURL string,
) (*Receipt, error) {
	body, err := renderReset(resetURL)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.from,
		ReplyTo:  s.replyTo,
		To:       to,
		Subject:  resetSubject,
		Tag:      resetTag,
		HTMLBody: body,
	})
	if err != nil {
		return nil, errors.Join(ErrSendFailed, err)
	}

	if resp.ErrorCode > 0 {
		return nil, errors.Join(
			ErrSendFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}

	s.log.WithField("message_id", resp.MessageID).Debug("Sent password reset email")

	return &Receipt{MessageID: resp.MessageID}, nil
}
