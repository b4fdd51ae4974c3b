package channel

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/contractguard/contract-monitor/internal/model"
)

// AlertmanagerConfig configures the Prometheus Alertmanager channel.
type AlertmanagerConfig struct {
	Name    string
	URL     string
	Timeout time.Duration
}

// AlertmanagerChannel pushes violations to Alertmanager's v2 alerts API.
type AlertmanagerChannel struct {
	cfg    AlertmanagerConfig
	logger *slog.Logger
	client *resty.Client
}

type alertmanagerAlert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

// NewAlertmanagerChannel creates an Alertmanager channel.
func NewAlertmanagerChannel(cfg AlertmanagerConfig, logger *slog.Logger) *AlertmanagerChannel {
	if cfg.Name == "" {
		cfg.Name = "alertmanager"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &AlertmanagerChannel{
		cfg:    cfg,
		logger: logger,
		client: resty.New().SetTimeout(cfg.Timeout).SetHeader("Content-Type", "application/json"),
	}
}

func (c *AlertmanagerChannel) Name() string { return c.cfg.Name }

func (c *AlertmanagerChannel) ValidateConfig() []string {
	if c.cfg.URL == "" {
		return []string{"alertmanager: url is required"}
	}
	return nil
}

func (c *AlertmanagerChannel) SendAlert(ctx context.Context, event *model.ViolationEvent) bool {
	alert := alertmanagerAlert{
		Labels: map[string]string{
			"alertname":      "ContractViolation",
			"contract":       event.ContractName,
			"violation_type": event.ViolationType,
			"severity":       strings.ToLower(string(event.Severity)),
		},
		Annotations: map[string]string{
			"summary":  event.Message,
			"expected": event.ExpectedValue,
			"actual":   event.ActualValue,
		},
		StartsAt: event.Timestamp,
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody([]alertmanagerAlert{alert}).
		Post(strings.TrimRight(c.cfg.URL, "/") + "/api/v2/alerts")
	if err != nil {
		c.logger.Error("Failed to push alert to Alertmanager", "contract", event.ContractName, "error", err)
		return false
	}
	if resp.IsError() {
		c.logger.Error("Alertmanager rejected alert", "contract", event.ContractName, "status", resp.StatusCode())
		return false
	}

	c.logger.Debug("Alertmanager alert pushed", "contract", event.ContractName)
	return true
}
