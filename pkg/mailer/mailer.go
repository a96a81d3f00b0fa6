// Package mailer sends transactional email over SMTP. Delivery is best
// effort: callers that do not want to block on SMTP should dispatch from a
// goroutine and log the error.
package mailer

import (
	"context"
	"errors"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/sirbramstech/campus-backend/pkg/config"
	"github.com/sirbramstech/campus-backend/pkg/logger"
)

var (
	errLoggerRequired      = errors.New("mailer: logger is required")
	errCredentialsRequired = errors.New("mailer: smtp user and password are required")
	errSenderRequired      = errors.New("mailer: sender address is required")
)

// Mailer is the delivery surface the notification service depends on.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Client struct {
	cfg    config.SMTPConfig
	dialer dialer
	logger *logger.Logger
}

// NewClient validates the SMTP configuration and builds the mailer.
func NewClient(cfg config.SMTPConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.User) == "" || strings.TrimSpace(cfg.Password) == "" {
		return nil, errCredentialsRequired
	}
	if strings.TrimSpace(cfg.Sender()) == "" {
		return nil, errSenderRequired
	}

	return &Client{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		logger: logg,
	}, nil
}

// Send delivers one message synchronously.
func (c *Client) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", c.cfg.Sender())
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	ctx = c.logger.WithField(ctx, "recipient", msg.To)
	if err := c.dialer.DialAndSend(m); err != nil {
		c.logger.Error(ctx, "sending email", err)
		return err
	}

	c.logger.Info(ctx, "email sent")
	return nil
}
