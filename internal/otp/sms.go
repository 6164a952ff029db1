package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bandyab/bandyab/internal/config"
)

// NewSender builds the configured SMS sender
func NewSender(cfg config.SMSConfig) (Sender, error) {
	switch cfg.Provider {
	case "", "log":
		return LogSender{}, nil
	case "http":
		if cfg.GatewayURL == "" {
			return nil, fmt.Errorf("otp.sms.gateway_url is required for the http provider")
		}
		return NewHTTPSender(cfg, nil), nil
	default:
		return nil, fmt.Errorf("unknown SMS provider %q", cfg.Provider)
	}
}

// LogSender writes codes to the log instead of sending them
type LogSender struct{}

// Name implements Sender
func (LogSender) Name() string { return "log" }

// Send implements Sender
func (LogSender) Send(ctx context.Context, phone, code string) error {
	slog.Warn("SMS provider is log: one-time code not delivered", "phone", phone, "code", code)
	return nil
}

// HTTPSender posts codes to a JSON SMS gateway
type HTTPSender struct {
	cfg    config.SMSConfig
	client *http.Client
}

// NewHTTPSender creates an HTTPSender. A nil client gets a 10 second timeout.
func NewHTTPSender(cfg config.SMSConfig, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Template == "" {
		cfg.Template = "%s"
	}
	return &HTTPSender{cfg: cfg, client: client}
}

// Name implements Sender
func (s *HTTPSender) Name() string { return "http" }

type smsRequest struct {
	Receptor string `json:"receptor"`
	Sender   string `json:"sender,omitempty"`
	Message  string `json:"message"`
}

// Send implements Sender. Gateways answer with either a top-level "status" or a
// nested "return.status"; any value other than 200 is a failure.
func (s *HTTPSender) Send(ctx context.Context, phone, code string) error {
	body, err := json.Marshal(smsRequest{
		Receptor: phone,
		Sender:   s.cfg.Sender,
		Message:  fmt.Sprintf(s.cfg.Template, code),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("SMS gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read SMS gateway response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("SMS gateway returned HTTP %d", resp.StatusCode)
	}

	status := gjson.GetBytes(raw, "return.status")
	message := gjson.GetBytes(raw, "return.message")
	if !status.Exists() {
		status = gjson.GetBytes(raw, "status")
		message = gjson.GetBytes(raw, "message")
	}
	if status.Exists() && status.Int() != http.StatusOK {
		return fmt.Errorf("SMS gateway rejected message: status %s: %s", status.String(), message.String())
	}
	return nil
}
