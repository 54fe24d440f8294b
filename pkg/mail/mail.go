// Package mail delivers transactional email through SendGrid, SMTP or the log.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

var (
	ErrInvalidRecipient = errors.New("invalid recipient address")
	ErrDeliveryFailed   = errors.New("mail delivery failed")
)

// Message is a single outgoing email with HTML and plain-text bodies.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(context.Context, Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Config selects and configures a delivery provider.
type Config struct {
	Provider        string
	FromName        string
	FromAddress     string
	SendGridAPIKey  string
	SendGridHost    string
	SendGridSandbox bool
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
}

// NewSender builds the sender named by cfg.Provider: sendgrid, smtp or log.
func NewSender(cfg Config) (Sender, error) {
	from := Address{Name: strings.TrimSpace(cfg.FromName), Email: strings.TrimSpace(cfg.FromAddress)}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "sendgrid":
		return NewSendGridSender(SendGridConfig{
			APIKey:  cfg.SendGridAPIKey,
			Host:    cfg.SendGridHost,
			Sandbox: cfg.SendGridSandbox,
			From:    from,
		})
	case "smtp":
		return NewSMTPSender(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     from,
		})
	case "", "log":
		return NewLogSender(nil), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// Address is a display name plus email address.
type Address struct {
	Name  string
	Email string
}

func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

func validateMessage(msg Message) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(msg.To)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if strings.TrimSpace(msg.HTML) == "" && strings.TrimSpace(msg.Text) == "" {
		return errors.New("mail body required")
	}
	return nil
}
