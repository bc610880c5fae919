package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// graphAPIBase is the WhatsApp Cloud API base URL.
	graphAPIBase = "https://graph.facebook.com/v19.0"
	// defaultSendTimeout is the HTTP timeout for message delivery.
	defaultSendTimeout = 10 * time.Second
)

// Sender delivers a text message to a recipient.
type Sender interface {
	Send(ctx context.Context, recipient, message string) error
}

// WhatsAppConfig describes the Cloud API credentials for message delivery.
type WhatsAppConfig struct {
	// AccessToken is the Cloud API bearer token.
	AccessToken string
	// PhoneNumberID identifies the sending phone number.
	PhoneNumberID string
	// BaseURL overrides the Graph API endpoint, mainly for tests.
	BaseURL string
	// Timeout is the per-request HTTP timeout. Zero means defaultSendTimeout.
	Timeout time.Duration
}

// WhatsAppSender sends text messages through the WhatsApp Cloud API.
type WhatsAppSender struct {
	token   string
	baseURL string
	phoneID string
	client  *http.Client
}

// NewWhatsAppSender creates a sender using the supplied config.
func NewWhatsAppSender(cfg WhatsAppConfig) (*WhatsAppSender, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("whatsapp access token is required")
	}
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, fmt.Errorf("whatsapp phone number id is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = graphAPIBase
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultSendTimeout
	}

	return &WhatsAppSender{
		token:   cfg.AccessToken,
		baseURL: baseURL,
		phoneID: cfg.PhoneNumberID,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Send delivers a single text message.
func (s *WhatsAppSender) Send(ctx context.Context, recipient, message string) error {
	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("whatsapp recipient is required")
	}
	if message == "" {
		return fmt.Errorf("whatsapp message is required")
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "text",
		"text": map[string]string{
			"body": message,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp payload encode failed: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("whatsapp request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("whatsapp response read failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("whatsapp response %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// SenderFunc adapts a plain function to the Sender interface.
type SenderFunc func(ctx context.Context, recipient, message string) error

// Send calls fn.
func (fn SenderFunc) Send(ctx context.Context, recipient, message string) error {
	return fn(ctx, recipient, message)
}
