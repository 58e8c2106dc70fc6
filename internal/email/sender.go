package email

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/gomail.v2"
)

// Message is one rendered newsletter email, ready to dispatch.
type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// Retries bounds the elapsed retry window in seconds per message.
	Retries int
}

// Send dispatches a single message over SMTP.
func (s *Sender) Send(msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send error: %w", err)
	}

	return nil
}

// SendWithRetry retries sending with exponential backoff. The error
// returned after the window is exhausted is per-recipient: callers count
// it and move on to the next recipient.
func (s *Sender) SendWithRetry(ctx context.Context, msg Message) error {
	operation := func() error {
		return s.Send(msg)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = time.Duration(s.Retries) * time.Second

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
