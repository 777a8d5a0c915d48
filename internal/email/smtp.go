package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/account-api/pkg/logger"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPService builds the gomail-backed sender used in production.
func NewSMTPService(cfg SMTPConfig) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *smtpService) SendCredentials(ctx context.Context, to, username, password string) error {
	body := fmt.Sprintf(
		"Your account has been created.\n\nUsername: %s\nPassword: %s\n\nPlease change your password after the first login.",
		username, password,
	)
	return s.send(to, "Your account credentials", body)
}

func (s *smtpService) SendWelcome(ctx context.Context, to, name string) error {
	body := fmt.Sprintf("Welcome aboard, %s!\n\nYour business workspace is ready.", name)
	return s.send(to, "Welcome", body)
}

func (s *smtpService) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

type noopService struct {
	log *logger.Logger
}

// NewNoopService logs instead of sending. Used in development and tests.
func NewNoopService(log *logger.Logger) Service {
	return &noopService{log: log}
}

func (s *noopService) SendCredentials(ctx context.Context, to, username, password string) error {
	s.log.Info("credentials email suppressed", "to", to, "username", username)
	return nil
}

func (s *noopService) SendWelcome(ctx context.Context, to, name string) error {
	s.log.Info("welcome email suppressed", "to", to)
	return nil
}
