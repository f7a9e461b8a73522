package utils

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Email is the payload handed to a Mailer.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer is the outbound mail boundary. Send returns the message id used
// for the delivery; failures are retryable on the next scheduled pass, so
// callers treat an error as transient rather than fatal.
type Mailer interface {
	Send(ctx context.Context, email Email) (string, error)
}

// SMTPMailer sends through a single configured SMTP identity.
type SMTPMailer struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Logger    *log.Logger
}

func NewSMTPMailer(host string, port int, username, password, fromEmail, fromName string, logger *log.Logger) *SMTPMailer {
	return &SMTPMailer{
		Host:      host,
		Port:      port,
		Username:  username,
		Password:  password,
		FromEmail: fromEmail,
		FromName:  fromName,
		Logger:    logger,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) (string, error) {
	if email.To == "" {
		return "", fmt.Errorf("missing recipient address")
	}

	domain := m.FromEmail
	if at := strings.LastIndex(domain, "@"); at >= 0 {
		domain = domain[at+1:]
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", m.FromName, m.FromEmail))
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", messageID)
	if email.HTML != "" {
		msg.SetBody("text/html", email.HTML)
		if email.Text != "" {
			msg.AddAlternative("text/plain", email.Text)
		}
	} else {
		msg.SetBody("text/plain", email.Text)
	}

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)

	// gomail has no context support; run the dial in a goroutine so a stuck
	// SMTP connection respects the per-item deadline.
	done := make(chan error, 1)
	go func() { done <- dialer.DialAndSend(msg) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send to %s: %w", email.To, err)
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}

	m.Logger.Printf("Sent email to %s (%s)", email.To, messageID)
	return messageID, nil
}

// NoopMailer logs instead of sending; used when SMTP is not configured.
type NoopMailer struct {
	Logger *log.Logger
}

func (m *NoopMailer) Send(ctx context.Context, email Email) (string, error) {
	id := fmt.Sprintf("<noop-%s@localhost>", uuid.New().String())
	m.Logger.Printf("SMTP not configured, dropping email to %s: %q", email.To, email.Subject)
	return id, nil
}
