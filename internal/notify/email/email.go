// Package email delivers notifications over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"medminder/internal/notify"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Gateway sends plain-text mail. Addresses may carry a "mailto:" prefix.
type Gateway struct {
	from   string
	dialer dialer
}

func New(cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address required")
	}
	return &Gateway{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

func (g *Gateway) Send(ctx context.Context, address, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := strings.TrimSpace(strings.TrimPrefix(address, "mailto:"))
	if to == "" {
		return errors.New("empty email address")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", g.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	// gomail has no context support; run the dial so a cancelled tick is not
	// held up. The abandoned send keeps going, so the caller must not resend.
	done := make(chan error, 1)
	go func() { done <- g.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w: %w", notify.ErrOutcomeUnknown, ctx.Err())
	}
}
