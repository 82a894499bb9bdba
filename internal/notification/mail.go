package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Mail is one outgoing e-mail. HTML is optional.
type Mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Mailer delivers e-mail. A nil error means the message was accepted.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// HTTPMailer posts mail as JSON to a mail-send endpoint. Any non-2xx
// response is a failure.
type HTTPMailer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPMailer creates a mailer for endpoint, e.g. "http://localhost:3001/api/sendMail".
func NewHTTPMailer(endpoint string) *HTTPMailer {
	return &HTTPMailer{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (h *HTTPMailer) Send(ctx context.Context, m Mail) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("mail: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mail: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// LogMailer logs mail instead of sending it.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(l *slog.Logger) *LogMailer {
	if l == nil {
		l = slog.Default()
	}
	return &LogMailer{log: l.With("component", "mail")}
}

func (m *LogMailer) Send(ctx context.Context, mail Mail) error {
	m.log.InfoContext(ctx, "mail", "to", mail.To, "subject", mail.Subject, "text", mail.Text)
	return nil
}
