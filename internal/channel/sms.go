package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	v2010 "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/contractguard/contract-monitor/internal/model"
)

// SMSConfig configures the Twilio SMS channel.
type SMSConfig struct {
	Name       string
	AccountSID string
	AuthToken  string
	FromNumber string
	Recipients []string
}

// SMSChannel sends terse violation alerts over SMS. Intended for CRITICAL
// routing rules; the body carries no structured detail.
type SMSChannel struct {
	cfg    SMSConfig
	logger *slog.Logger
	client *twilio.RestClient
}

// NewSMSChannel creates an SMS channel.
func NewSMSChannel(cfg SMSConfig, logger *slog.Logger) *SMSChannel {
	if cfg.Name == "" {
		cfg.Name = "sms"
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSChannel{cfg: cfg, logger: logger, client: client}
}

func (c *SMSChannel) Name() string { return c.cfg.Name }

func (c *SMSChannel) ValidateConfig() []string {
	var problems []string
	if c.cfg.AccountSID == "" || c.cfg.AuthToken == "" {
		problems = append(problems, "sms: twilio credentials are required")
	}
	if c.cfg.FromNumber == "" {
		problems = append(problems, "sms: from_number is required")
	}
	if len(c.cfg.Recipients) == 0 {
		problems = append(problems, "sms: no recipients configured")
	}
	return problems
}

func (c *SMSChannel) SendAlert(ctx context.Context, event *model.ViolationEvent) bool {
	body := fmt.Sprintf("[%s] %s: %s", event.Severity, event.ContractName, event.Message)

	ok := true
	for _, recipient := range c.cfg.Recipients {
		params := &v2010.CreateMessageParams{}
		params.SetTo(recipient)
		params.SetFrom(c.cfg.FromNumber)
		params.SetBody(body)

		if _, err := c.client.Api.CreateMessage(params); err != nil {
			c.logger.Error("Failed to send SMS alert",
				"contract", event.ContractName,
				"recipient", recipient,
				"error", err)
			ok = false
		}
	}
	return ok
}
