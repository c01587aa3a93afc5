package notify

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/mail.v2"
)

type captureSender struct {
	cfg      SMTPConfig
	messages []*mail.Message
	err      error
}

func (c *captureSender) DialAndSend(m ...*mail.Message) error {
	c.messages = append(c.messages, m...)
	return c.err
}

func newTestMailer(cfg SMTPConfig, capture *captureSender) *Mailer {
	mailer := NewMailer(cfg)
	mailer.dial = func(cfg SMTPConfig) sender {
		capture.cfg = cfg
		return capture
	}
	return mailer
}

func TestMailerSkipsWithoutCredentials(t *testing.T) {
	capture := &captureSender{}
	mailer := newTestMailer(SMTPConfig{Server: "smtp.example.com", Username: "soc@example.com"}, capture)

	err := mailer.Notify(context.Background(), "admin@example.com", "subject", "body")
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if len(capture.messages) != 0 {
		t.Fatal("mailer dialed without credentials")
	}
}

func TestMailerSkipsQuietlyWithoutCredentials(t *testing.T) {
	var out bytes.Buffer
	prevLevel := log.GetLevel()
	log.SetOutput(&out)
	log.SetLevel(log.InfoLevel)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(prevLevel)
	})

	mailer := newTestMailer(SMTPConfig{Server: "smtp.example.com"}, &captureSender{})
	for i := 0; i < 3; i++ {
		if err := mailer.Notify(context.Background(), "admin@example.com", "subject", "body"); !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("expected ErrMissingCredentials, got %v", err)
		}
	}
	if out.Len() != 0 {
		t.Fatalf("skipped notifications logged above debug: %q", out.String())
	}
}

func TestMailerSendsHTMLMessage(t *testing.T) {
	capture := &captureSender{}
	mailer := newTestMailer(SMTPConfig{
		Server:   "smtp.example.com",
		Username: "soc@example.com",
		Password: "secret",
	}, capture)

	err := mailer.Notify(context.Background(), "admin@example.com", "Critical SOC Alert: ddos", "<p>details</p>")
	if err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if len(capture.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(capture.messages))
	}
	if capture.cfg.Port != 587 || capture.cfg.Timeout != 10*time.Second {
		t.Fatalf("defaults not applied: %+v", capture.cfg)
	}

	msg := capture.messages[0]
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "admin@example.com" {
		t.Fatalf("To = %v", got)
	}
	if got := msg.GetHeader("Subject"); len(got) != 1 || got[0] != "Critical SOC Alert: ddos" {
		t.Fatalf("Subject = %v", got)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !strings.Contains(buf.String(), "text/html") || !strings.Contains(buf.String(), "<p>details</p>") {
		t.Fatalf("unexpected message body:\n%s", buf.String())
	}
}

func TestMailerWrapsSendError(t *testing.T) {
	capture := &captureSender{err: errors.New("connection refused")}
	mailer := newTestMailer(SMTPConfig{Username: "u", Password: "p"}, capture)

	err := mailer.Notify(context.Background(), "admin@example.com", "s", "b")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestNewDialerEnforcesStartTLS(t *testing.T) {
	d, ok := newDialer(SMTPConfig{Server: "smtp.example.com", Port: 587, Username: "u", Password: "p", Timeout: time.Second}).(*mail.Dialer)
	if !ok {
		t.Fatal("expected *mail.Dialer")
	}
	if d.StartTLSPolicy != mail.MandatoryStartTLS {
		t.Fatalf("StartTLSPolicy = %v", d.StartTLSPolicy)
	}
	if d.Timeout != time.Second {
		t.Fatalf("Timeout = %v", d.Timeout)
	}
}
