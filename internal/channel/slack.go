package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/contractguard/contract-monitor/internal/model"
)

// SlackConfig configures the Slack webhook channel.
type SlackConfig struct {
	Name       string
	WebhookURL string
	Channel    string
	Timeout    time.Duration
}

// SlackChannel posts violation alerts to a Slack incoming webhook.
type SlackChannel struct {
	cfg    SlackConfig
	logger *slog.Logger
	client *http.Client
}

type slackMessage struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(cfg SlackConfig, logger *slog.Logger) *SlackChannel {
	if cfg.Name == "" {
		cfg.Name = "slack"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SlackChannel{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *SlackChannel) Name() string { return c.cfg.Name }

func (c *SlackChannel) ValidateConfig() []string {
	if c.cfg.WebhookURL == "" {
		return []string{"slack: webhook_url is required"}
	}
	return nil
}

func (c *SlackChannel) SendAlert(ctx context.Context, event *model.ViolationEvent) bool {
	payload := slackMessage{
		Channel: c.cfg.Channel,
		Text:    fmt.Sprintf("[%s] %s", event.Severity, event.Message),
		Blocks: []slackBlock{
			{
				Type: "section",
				Text: &slackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Contract violation: %s*\n%s", event.ContractName, event.Message),
				},
			},
			{
				Type: "section",
				Fields: []slackText{
					{Type: "mrkdwn", Text: fmt.Sprintf("*Severity:*\n%s", event.Severity)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Type:*\n%s", event.ViolationType)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Expected:*\n%s", orDash(event.ExpectedValue))},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Actual:*\n%s", orDash(event.ActualValue))},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("Failed to marshal Slack payload", "contract", event.ContractName, "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("Failed to build Slack request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Failed to send Slack alert", "contract", event.ContractName, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Slack webhook rejected alert", "contract", event.ContractName, "status", resp.StatusCode)
		return false
	}

	c.logger.Debug("Slack alert sent", "contract", event.ContractName)
	return true
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
