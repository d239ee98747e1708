package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	From     string `yaml:"from" toml:"from"`
	Subject  string `yaml:"subject" toml:"subject"`
}

// Sender delivers a composed message. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailGateway sends codes as plain-text email.
type EmailGateway struct {
	sender  Sender
	from    string
	subject string
}

func NewEmailGateway(cfg EmailConfig) (*EmailGateway, error) {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 {
		return nil, errors.New("notify: SMTP host and port are required")
	}
	return NewEmailGatewayWithSender(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From, cfg.Subject)
}

// NewEmailGatewayWithSender uses sender instead of dialing SMTP directly.
func NewEmailGatewayWithSender(sender Sender, from, subject string) (*EmailGateway, error) {
	if sender == nil || strings.TrimSpace(from) == "" {
		return nil, errors.New("notify: sender and from address are required")
	}
	if subject == "" {
		subject = "Your verification code"
	}
	return &EmailGateway{sender: sender, from: from, subject: subject}, nil
}

// Send does not honor ctx cancellation once the SMTP exchange has started.
func (g *EmailGateway) Send(ctx context.Context, destination, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", g.from)
	m.SetHeader("To", destination)
	m.SetHeader("Subject", g.subject)
	m.SetBody("text/plain", message)

	if err := g.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}
