package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridEndpoint = "/v3/mail/send"

type SendGridConfig struct {
	APIKey  string
	Host    string
	Sandbox bool
	From    Address
}

// SendGridSender posts messages to the SendGrid v3 mail API.
type SendGridSender struct {
	apiKey  string
	host    string
	sandbox bool
	from    Address
}

func NewSendGridSender(cfg SendGridConfig) (*SendGridSender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key required")
	}
	if strings.TrimSpace(cfg.From.Email) == "" {
		return nil, errors.New("mail from address required")
	}
	return &SendGridSender{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		host:    strings.TrimRight(strings.TrimSpace(cfg.Host), "/"),
		sandbox: cfg.Sandbox,
		from:    cfg.From,
	}, nil
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	from := sgmail.NewEmail(s.from.Name, s.from.Email)
	to := sgmail.NewEmail("", strings.TrimSpace(msg.To))
	m := sgmail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	if s.sandbox {
		ms := sgmail.NewMailSettings()
		ms.SetSandboxMode(sgmail.NewSetting(true))
		m.SetMailSettings(ms)
	}

	req := sendgrid.GetRequest(s.apiKey, sendGridEndpoint, s.host)
	req.Method = "POST"
	req.Body = sgmail.GetRequestBody(m)
	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: sendgrid: %v", ErrDeliveryFailed, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: sendgrid status %d: %s", ErrDeliveryFailed, resp.StatusCode, truncate(resp.Body, 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
