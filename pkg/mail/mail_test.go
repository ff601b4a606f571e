package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/mrz1836/postmark"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resetURL = "https://cms.example/reset-password?token=abc&x=<y>"

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.MailConfig
		wantNil bool
		wantErr string
	}{
		{name: "disabled", cfg: config.MailConfig{}, wantNil: true},
		{name: "file", cfg: config.MailConfig{Driver: config.MailDriverFile, File: config.FileMailConfig{Dir: t.TempDir()}}},
		{name: "file without dir", cfg: config.MailConfig{Driver: config.MailDriverFile}, wantErr: "directory is required"},
		{
			name: "postmark",
			cfg: config.MailConfig{
				Driver:   config.MailDriverPostmark,
				From:     "cms@example.com",
				Postmark: config.PostmarkMailConfig{ServerToken: "server"},
			},
		},
		{name: "postmark without token", cfg: config.MailConfig{Driver: config.MailDriverPostmark, From: "a@b"}, wantErr: "server token"},
		{name: "unknown", cfg: config.MailConfig{Driver: "pigeon"}, wantErr: "unsupported mail driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(testLogger(), &tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)

			if tt.wantNil {
				assert.Nil(t, s)
			} else {
				assert.NotNil(t, s)
			}
		})
	}
}

func TestRenderReset_EscapesURL(t *testing.T) {
	body, err := renderReset(resetURL)
	require.NoError(t, err)

	assert.Contains(t, body, `href="https://cms.example/reset-password?token=abc&amp;x=%3cy%3e"`)
	assert.NotContains(t, body, "<y>")
}

func TestFileSender(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outbox")

	s, err := NewFile(testLogger(), &config.MailConfig{
		Driver: config.MailDriverFile,
		File:   config.FileMailConfig{Dir: dir},
	})
	require.NoError(t, err)

	receipt, err := s.SendPasswordResetEmail(context.Background(), "a@x.com", resetURL)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.MessageID)

	u, err := url.Parse(receipt.PreviewURL)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)

	html, err := os.ReadFile(filepath.FromSlash(u.Path))
	require.NoError(t, err)
	assert.Contains(t, string(html), "Choose a new password")

	raw, err := os.ReadFile(strings.TrimSuffix(filepath.FromSlash(u.Path), ".html") + ".json")
	require.NoError(t, err)

	var meta fileMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, receipt.MessageID, meta.MessageID)
	assert.Equal(t, "a@x.com", meta.To)
	assert.Equal(t, resetURL, meta.ResetURL)

	second, err := s.SendPasswordResetEmail(context.Background(), "a@x.com", resetURL)
	require.NoError(t, err)
	assert.NotEqual(t, receipt.PreviewURL, second.PreviewURL)
}

func newPostmarkTest(t *testing.T, handler http.HandlerFunc) *postmarkSender {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := postmark.NewClient("server-token", "")
	client.BaseURL = srv.URL

	return newPostmarkSender(testLogger(), client, &config.MailConfig{
		From:    "cms@example.com",
		ReplyTo: "support@example.com",
	})
}

func TestPostmarkSender(t *testing.T) {
	s := newPostmarkTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))

		var email postmark.Email
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&email))
		assert.Equal(t, "cms@example.com", email.From)
		assert.Equal(t, "support@example.com", email.ReplyTo)
		assert.Equal(t, "a@x.com", email.To)
		assert.Equal(t, resetTag, email.Tag)
		assert.Contains(t, email.HTMLBody, "Choose a new password")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"a@x.com","MessageID":"pm-123","ErrorCode":0,"Message":"OK"}`))
	})

	receipt, err := s.SendPasswordResetEmail(context.Background(), "a@x.com", resetURL)
	require.NoError(t, err)
	assert.Equal(t, "pm-123", receipt.MessageID)
	assert.Empty(t, receipt.PreviewURL)
}

func TestPostmarkSender_APIError(t *testing.T) {
	s := newPostmarkTest(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	})

	_, err := s.SendPasswordResetEmail(context.Background(), "a@x.com", resetURL)
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "Invalid email request")
}
