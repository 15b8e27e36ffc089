// ABOUTME: Delivery channel senders for email, SMS, and push
// ABOUTME: Each is an independent fire-and-forget collaborator; failures are caught, not propagated

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/wneessen/go-mail"
)

// EmailConfig configures the SMTP email channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers notifications over SMTP. The plain-text body is the
// notification body verbatim; the HTML alternative is the body rendered as
// markdown.
type EmailSender struct {
	client *mail.Client
	from   string
	logger *slog.Logger
}

// NewEmailSender creates an SMTP-backed email sender.
func NewEmailSender(cfg EmailConfig, logger *slog.Logger) (*EmailSender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}
	return &EmailSender{
		client: client,
		from:   cfg.From,
		logger: logger.With("component", "email"),
	}, nil
}

// Send delivers one email to the contact address.
func (s *EmailSender) Send(ctx context.Context, contact string, content Content) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("setting from address: %w", err)
	}
	if err := msg.To(contact); err != nil {
		return fmt.Errorf("setting recipient address: %w", err)
	}
	msg.Subject(content.Title)
	msg.SetBodyString(mail.TypeTextPlain, content.Body)
	if content.HTMLBody != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, content.HTMLBody)
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	s.logger.Debug("email sent", "subject", content.Title)
	return nil
}

// WebhookConfig configures an HTTP-POST delivery provider (SMS or push).
type WebhookConfig struct {
	URL    string
	APIKey string
}

// webhookPayload is the JSON body posted to SMS and push providers.
type webhookPayload struct {
	To      string            `json:"to"`
	Title   string            `json:"title,omitempty"`
	Body    string            `json:"body"`
	Payload map[string]string `json:"payload,omitempty"`
}

// WebhookSender delivers notifications by POSTing JSON to a provider
// endpoint. The SMS and push providers share this contract; only the
// endpoint and the meaning of the contact differ (phone number vs device
// token).
type WebhookSender struct {
	cfg    WebhookConfig
	client *http.Client
	name   string
	logger *slog.Logger
}

// NewWebhookSender creates a webhook-backed sender. name labels the channel
// in logs ("sms" or "push").
func NewWebhookSender(name string, cfg WebhookConfig, logger *slog.Logger) *WebhookSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSender{
		cfg:    cfg,
		client: &http.Client{},
		name:   name,
		logger: logger.With("component", name),
	}
}

// Send posts the notification to the provider endpoint.
func (s *WebhookSender) Send(ctx context.Context, contact string, content Content) error {
	body, err := json.Marshal(webhookPayload{
		To:      contact,
		Title:   content.Title,
		Body:    content.Body,
		Payload: content.Payload,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	s.logger.Debug("notification posted", "status", resp.StatusCode)
	return nil
}
