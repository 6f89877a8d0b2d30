package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBrevoURL    = "https://api.brevo.com/v3/smtp/email"
	DefaultSenderEmail = "noreply@life-moments.app"
	DefaultSenderName  = "Life Moments"
)

var ErrNoRecipients = errors.New("email has no recipients")

// Message is one email addressed to every recipient in To.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

type BrevoConfig struct {
	APIKey      string
	SenderEmail string
	SenderName  string
	BaseURL     string
	// RatePerSecond limits outgoing sends; zero disables limiting.
	RatePerSecond float64
	HTTPClient    *http.Client
}

type Brevo struct {
	apiKey  string
	sender  contact
	url     string
	limiter *rate.Limiter
	client  *http.Client
}

type contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type sendRequest struct {
	Sender      contact   `json:"sender"`
	To          []contact `json:"to"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"htmlContent"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

func NewBrevo(cfg BrevoConfig) *Brevo {
	b := &Brevo{
		apiKey: cfg.APIKey,
		sender: contact{Name: cfg.SenderName, Email: cfg.SenderEmail},
		url:    cfg.BaseURL,
		client: cfg.HTTPClient,
	}
	if b.sender.Email == "" {
		b.sender.Email = DefaultSenderEmail
	}
	if b.sender.Name == "" {
		b.sender.Name = DefaultSenderName
	}
	if b.url == "" {
		b.url = DefaultBrevoURL
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RatePerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return b
}

// Send delivers msg in a single API call and returns the provider message id.
func (b *Brevo) Send(ctx context.Context, msg *Message) (string, error) {
	if len(msg.To) == 0 {
		return "", ErrNoRecipients
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	to := make([]contact, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, contact{Email: addr})
	}
	jsonBody, err := json.Marshal(sendRequest{
		Sender:      b.sender,
		To:          to,
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("brevo API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out sendResponse
	if len(body) > 0 {
		// The message id is informational; a 2xx means the email was accepted.
		_ = json.Unmarshal(body, &out)
	}
	return out.MessageID, nil
}
