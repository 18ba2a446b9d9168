package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/campusgrid/schoolauth/pkg/slogx"
)

// Mailer delivers outbound auth email. Delivery failures should be treated as
// soft by callers: the forgot-password flow responds identically whether the
// mail went out or not.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, firstName, resetToken string, expires time.Time) error
}

// SMTPConfig configures the SMTP mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// ResetURLBase is the frontend page the emailed link points at; the token
	// is appended as a query parameter.
	ResetURLBase string
}

// SMTPMailer sends mail over authenticated SMTP with mandatory TLS.
type SMTPMailer struct {
	client       *mail.Client
	from         string
	resetURLBase string
}

// NewSMTPMailer builds an SMTP mailer from config.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &SMTPMailer{
		client:       client,
		from:         cfg.From,
		resetURLBase: cfg.ResetURLBase,
	}, nil
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, firstName, resetToken string, expires time.Time) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("failed to set From address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("failed to set To address: %w", err)
	}

	msg.Subject("Password Reset Request")
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Hello %s,\n\n"+
			"A password reset was requested for your account. Use the link below to choose a new password:\n\n"+
			"%s?token=%s\n\n"+
			"The link expires at %s. If you did not request this, you can ignore this email; your password is unchanged.\n",
		firstName,
		m.resetURLBase,
		resetToken,
		expires.UTC().Format(time.RFC1123),
	))

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send password reset email: %w", err)
	}
	return nil
}

// LogMailer is the fallback when SMTP is not configured (local development).
// It logs that a mail would have been sent, without the token.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(ctx context.Context, to, _, _ string, _ time.Time) error {
	slogx.FromContext(ctx).Info("smtp not configured, skipping password reset email",
		slog.String("to", to),
	)
	return nil
}
