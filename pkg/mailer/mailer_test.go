package mailer

import (
	"context"
	"errors"
	"testing"

	"gopkg.in/gomail.v2"

	"github.com/sirbramstech/campus-backend/pkg/config"
	"github.com/sirbramstech/campus-backend/pkg/logger"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func testSMTPConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		User:     "noreply@example.com",
		Password: "secret",
		From:     "campus@example.com",
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test"})

	cfg := testSMTPConfig()
	cfg.Password = ""
	if _, err := NewClient(cfg, logg); err == nil {
		t.Fatal("expected error for missing password")
	}

	if _, err := NewClient(testSMTPConfig(), nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestSendBuildsMessage(t *testing.T) {
	client, err := NewClient(testSMTPConfig(), logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	fake := &fakeDialer{}
	client.dialer = fake

	err = client.Send(context.Background(), Message{
		To:      "student@example.com",
		Subject: "Enrollment approved",
		Body:    "<p>Welcome aboard.</p>",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(fake.sent))
	}
	msg := fake.sent[0]
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "student@example.com" {
		t.Fatalf("unexpected To header %v", got)
	}
	if got := msg.GetHeader("From"); len(got) != 1 || got[0] != "campus@example.com" {
		t.Fatalf("unexpected From header %v", got)
	}
}

func TestSendPropagatesDialerError(t *testing.T) {
	client, err := NewClient(testSMTPConfig(), logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	dialErr := errors.New("connection refused")
	client.dialer = &fakeDialer{err: dialErr}

	if err := client.Send(context.Background(), Message{To: "x@example.com"}); !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
}
