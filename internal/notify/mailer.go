package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/mail.v2"
)

var ErrMissingCredentials = errors.New("notify: smtp credentials not configured")

// Notifier delivers an alert message to an operator. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

type SMTPConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

type sender interface {
	DialAndSend(m ...*mail.Message) error
}

// Mailer sends HTML mail over authenticated SMTP with mandatory STARTTLS.
type Mailer struct {
	cfg  SMTPConfig
	dial func(SMTPConfig) sender
}

func NewMailer(cfg SMTPConfig) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Mailer{cfg: cfg, dial: newDialer}
}

func newDialer(cfg SMTPConfig) sender {
	dialer := mail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = cfg.Timeout
	dialer.StartTLSPolicy = mail.MandatoryStartTLS
	return dialer
}

func (m *Mailer) Notify(ctx context.Context, recipient, subject, body string) error {
	if strings.TrimSpace(m.cfg.Username) == "" || strings.TrimSpace(m.cfg.Password) == "" {
		log.Debug("Email credentials not set, skipping notification", "subject", subject)
		return ErrMissingCredentials
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.Username)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dial(m.cfg).DialAndSend(msg); err != nil {
		return fmt.Errorf("notify: send to %s: %w", recipient, err)
	}

	log.Info("Alert email sent", "recipient", recipient)
	return nil
}
