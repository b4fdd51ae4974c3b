package channel

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/contractguard/contract-monitor/internal/model"
)

// EmailConfig configures the email channel. Provider selects the transport:
// "sendgrid" or "smtp".
type EmailConfig struct {
	Name           string
	Provider       string
	SendGridAPIKey string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	FromAddress    string
	FromName       string
	Recipients     []string
}

// EmailChannel sends violation alerts by email.
type EmailChannel struct {
	cfg      EmailConfig
	logger   *slog.Logger
	template *template.Template
}

const emailBodyTemplate = `
<html>
<body>
  <h2>Contract violation: {{.ContractName}}</h2>
  <p>{{.Message}}</p>
  <table>
    <tr><td><strong>Severity:</strong></td><td>{{.Severity}}</td></tr>
    <tr><td><strong>Violation:</strong></td><td>{{.ViolationType}}</td></tr>
    {{if .ExpectedValue}}<tr><td><strong>Expected:</strong></td><td>{{.ExpectedValue}}</td></tr>{{end}}
    {{if .ActualValue}}<tr><td><strong>Actual:</strong></td><td>{{.ActualValue}}</td></tr>{{end}}
    <tr><td><strong>Detected:</strong></td><td>{{.Timestamp.Format "2006-01-02 15:04:05 UTC"}}</td></tr>
  </table>
  {{if .AffectedConsumers}}<p>Affected consumers: {{range .AffectedConsumers}}{{.}} {{end}}</p>{{end}}
</body>
</html>
`

// NewEmailChannel creates an email channel.
func NewEmailChannel(cfg EmailConfig, logger *slog.Logger) (*EmailChannel, error) {
	tmpl, err := template.New("email").Parse(emailBodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "email"
	}
	return &EmailChannel{cfg: cfg, logger: logger, template: tmpl}, nil
}

func (c *EmailChannel) Name() string { return c.cfg.Name }

func (c *EmailChannel) ValidateConfig() []string {
	var problems []string
	if len(c.cfg.Recipients) == 0 {
		problems = append(problems, "email: no recipients configured")
	}
	if c.cfg.FromAddress == "" {
		problems = append(problems, "email: from_address is required")
	}
	switch c.cfg.Provider {
	case "sendgrid":
		if c.cfg.SendGridAPIKey == "" {
			problems = append(problems, "email: sendgrid provider requires an API key")
		}
	case "smtp":
		if c.cfg.SMTPHost == "" {
			problems = append(problems, "email: smtp provider requires a host")
		}
	default:
		problems = append(problems, fmt.Sprintf("email: unsupported provider %q", c.cfg.Provider))
	}
	return problems
}

func (c *EmailChannel) SendAlert(ctx context.Context, event *model.ViolationEvent) bool {
	subject := fmt.Sprintf("[%s] contract violation: %s", event.Severity, event.ContractName)

	var body bytes.Buffer
	if err := c.template.Execute(&body, event); err != nil {
		c.logger.Error("Failed to render email body", "contract", event.ContractName, "error", err)
		return false
	}

	var err error
	switch c.cfg.Provider {
	case "sendgrid":
		err = c.sendViaSendGrid(ctx, subject, body.String())
	case "smtp":
		err = c.sendViaSMTP(subject, body.String())
	default:
		err = fmt.Errorf("unsupported email provider: %s", c.cfg.Provider)
	}
	if err != nil {
		c.logger.Error("Failed to send alert email",
			"contract", event.ContractName,
			"provider", c.cfg.Provider,
			"error", err)
		return false
	}

	c.logger.Debug("Alert email sent", "contract", event.ContractName, "recipients", len(c.cfg.Recipients))
	return true
}

func (c *EmailChannel) sendViaSendGrid(ctx context.Context, subject, html string) error {
	from := mail.NewEmail(c.cfg.FromName, c.cfg.FromAddress)
	client := sendgrid.NewSendClient(c.cfg.SendGridAPIKey)

	for _, recipient := range c.cfg.Recipients {
		message := mail.NewSingleEmail(from, subject, mail.NewEmail("", recipient), subject, html)
		resp, err := client.SendWithContext(ctx, message)
		if err != nil {
			return fmt.Errorf("sendgrid send to %s: %w", recipient, err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("sendgrid send to %s: status %d", recipient, resp.StatusCode)
		}
	}
	return nil
}

func (c *EmailChannel) sendViaSMTP(subject, html string) error {
	msg := fmt.Sprintf("From: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		c.cfg.FromAddress, subject, html)

	var auth smtp.Auth
	if c.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", c.cfg.SMTPUsername, c.cfg.SMTPPassword, c.cfg.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	if err := smtp.SendMail(addr, auth, c.cfg.FromAddress, c.cfg.Recipients, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
