// Package whatsapp is a thin client for the outbound messaging providers the
// platform supports. Credentials are tenant data and arrive per call.
package whatsapp

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

	contractx "github.com/ajudei/concierge/engine/contract"
)

type Config struct {
	WAMeBaseURL  string        `envconfig:"WAME_BASE_URL" default:"https://us.api-wa.me"`
	CloudBaseURL string        `envconfig:"CLOUD_BASE_URL" default:"https://graph.facebook.com/v19.0"`
	Timeout      time.Duration `split_words:"true" default:"15s"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ contractx.Messenger = (*Client)(nil)

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SendText delivers one text message through the provider bound to the
// tenant's credentials.
func (c *Client) SendText(ctx context.Context, creds contractx.MessagingCredentials, to string, text string) error {
	to = cleanNumber(to)
	if to == "" {
		return errors.New("whatsapp: empty recipient")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("whatsapp: empty message")
	}
	if strings.TrimSpace(creds.Token) == "" {
		return fmt.Errorf("%w: messaging token is empty", contractx.ErrConfigurationMissing)
	}

	switch creds.Provider {
	case contractx.ProviderWAMe:
		return c.sendWAMe(ctx, creds, to, text)
	case contractx.ProviderCloud:
		return c.sendCloud(ctx, creds, to, text)
	default:
		return fmt.Errorf("whatsapp: unsupported provider %q", creds.Provider)
	}
}

func (c *Client) sendWAMe(ctx context.Context, creds contractx.MessagingCredentials, to, text string) error {
	url := fmt.Sprintf("%s/%s/message/text", strings.TrimRight(c.cfg.WAMeBaseURL, "/"), creds.Token)
	body := map[string]string{"to": to, "text": text}
	return c.post(ctx, url, "", body)
}

func (c *Client) sendCloud(ctx context.Context, creds contractx.MessagingCredentials, to, text string) error {
	if strings.TrimSpace(creds.SenderID) == "" {
		return fmt.Errorf("%w: cloud provider needs a sender id", contractx.ErrConfigurationMissing)
	}
	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(c.cfg.CloudBaseURL, "/"), creds.SenderID)
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	return c.post(ctx, url, creds.Token, body)
}

func (c *Client) post(ctx context.Context, url, bearer string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp: provider returned status=%d body=%s", resp.StatusCode, string(snippet))
	}
	return nil
}

func cleanNumber(handle string) string {
	handle = strings.TrimSpace(handle)
	if i := strings.IndexByte(handle, '@'); i >= 0 {
		handle = handle[:i]
	}
	return handle
}
