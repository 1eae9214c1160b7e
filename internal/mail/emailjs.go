package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmailJSConfig holds the EmailJS account settings.
type EmailJSConfig struct {
	Endpoint   string
	ServiceID  string
	TemplateID string
	PublicKey  string
	PrivateKey string
}

// EmailJS sends template emails through the EmailJS REST API.
type EmailJS struct {
	cfg        EmailJSConfig
	httpClient *http.Client
}

// NewEmailJS constructs the client.
func NewEmailJS(cfg EmailJSConfig) (*EmailJS, error) {
	if cfg.ServiceID == "" || cfg.TemplateID == "" || cfg.PublicKey == "" {
		return nil, errors.New("emailjs: service id, template id and public key are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.emailjs.com/api/v1.0/email/send"
	}
	return &EmailJS{cfg: cfg, httpClient: &http.Client{Timeout: 15 * time.Second}}, nil
}

type emailJSRequest struct {
	ServiceID      string `json:"service_id"`
	TemplateID     string `json:"template_id"`
	UserID         string `json:"user_id"`
	AccessToken    string `json:"accessToken,omitempty"`
	TemplateParams Params `json:"template_params"`
}

// SendInvitation posts the invitation parameters to EmailJS. Client errors
// other than rate limiting are permanent.
func (c *EmailJS) SendInvitation(ctx context.Context, params Params) error {
	if params.Recipient() == "" {
		return fmt.Errorf("%w: recipient is empty", ErrPermanent)
	}
	payload, err := json.Marshal(emailJSRequest{
		ServiceID:      c.cfg.ServiceID,
		TemplateID:     c.cfg.TemplateID,
		UserID:         c.cfg.PublicKey,
		AccessToken:    c.cfg.PrivateKey,
		TemplateParams: params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("emailjs: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("emailjs returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return errors.Join(ErrPermanent, err)
	}
	return err
}
