package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/contractguard/contract-monitor/internal/model"
)

// WebhookConfig configures a generic JSON webhook channel.
type WebhookConfig struct {
	Name          string
	URL           string
	Headers       map[string]string
	SigningSecret string
	Timeout       time.Duration
	RetryCount    int
}

// WebhookChannel POSTs the violation event as JSON to a configured URL,
// optionally signing the body with an HMAC-SHA256 header.
type WebhookChannel struct {
	cfg    WebhookConfig
	logger *slog.Logger
	client *resty.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(cfg WebhookConfig, logger *slog.Logger) *WebhookChannel {
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	return &WebhookChannel{cfg: cfg, logger: logger, client: client}
}

func (c *WebhookChannel) Name() string { return c.cfg.Name }

func (c *WebhookChannel) ValidateConfig() []string {
	if c.cfg.URL == "" {
		return []string{"webhook: url is required"}
	}
	return nil
}

func (c *WebhookChannel) SendAlert(ctx context.Context, event *model.ViolationEvent) bool {
	body, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("Failed to marshal webhook payload", "contract", event.ContractName, "error", err)
		return false
	}

	req := c.client.R().SetContext(ctx).SetBody(body)
	if c.cfg.SigningSecret != "" {
		mac := hmac.New(sha256.New, []byte(c.cfg.SigningSecret))
		mac.Write(body)
		req.SetHeader("X-Signature-SHA256", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := req.Post(c.cfg.URL)
	if err != nil {
		c.logger.Error("Failed to deliver webhook alert", "contract", event.ContractName, "error", err)
		return false
	}
	if resp.IsError() {
		c.logger.Error("Webhook endpoint rejected alert",
			"contract", event.ContractName,
			"status", resp.StatusCode())
		return false
	}

	c.logger.Debug("Webhook alert delivered", "contract", event.ContractName, "url", c.cfg.URL)
	return true
}
