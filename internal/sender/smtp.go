// Package sender provides delivery adapters beyond the primary API
// client. The SMTP adapter submits through an authenticated relay and
// is used when a deployment cannot or does not want to use the
// provider's REST API.
package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/postwave/postwave/internal/campaign"
	"github.com/postwave/postwave/internal/email"
)

// SMTPConfig configures the relay connection.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// UseTLS dials an implicit-TLS port (465 style). Otherwise the
	// connection upgrades via STARTTLS.
	UseTLS bool `yaml:"use_tls"`

	// From is the envelope and header sender address.
	From string `yaml:"from"`
}

// SMTPSender delivers messages through an authenticated SMTP relay. It
// satisfies campaign.Sender. Each Send opens a fresh connection; the
// sequential campaign loop with its inter-send delay makes connection
// reuse pointless.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPSender creates an SMTP relay sender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if cfg.Port == 0 {
		if cfg.UseTLS {
			cfg.Port = 465
		} else {
			cfg.Port = 587
		}
	}
	return &SMTPSender{
		cfg:    cfg,
		logger: logger.With("component", "smtp_sender"),
	}
}

// Send submits one message and returns a synthetic message ID derived
// from the relay acceptance.
func (s *SMTPSender) Send(ctx context.Context, msg *campaign.Message) (string, error) {
	raw, err := email.BuildMIME(s.cfg.From, msg.To, msg.Subject, msg.Body, msg.Attachments)
	if err != nil {
		return "", fmt.Errorf("build message: %w", err)
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}

	var client *smtp.Client
	if s.cfg.UseTLS {
		client, err = smtp.DialTLS(addr, tlsConfig)
	} else {
		client, err = smtp.DialStartTLS(addr, tlsConfig)
	}
	if err != nil {
		return "", fmt.Errorf("connect to relay %s: %w", addr, err)
	}
	defer client.Close()

	if deadline, ok := ctx.Deadline(); ok {
		client.CommandTimeout = time.Until(deadline)
		client.SubmissionTimeout = time.Until(deadline)
	}

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return "", fmt.Errorf("authenticate: %w", err)
		}
	}

	if err := client.SendMail(s.cfg.From, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Debug("relay QUIT failed", "error", err)
	}

	s.logger.Debug("message relayed", "to", msg.To, "relay", addr)
	return fmt.Sprintf("smtp-%s-%d", s.cfg.Host, time.Now().UnixNano()), nil
}

// IsTemporary reports whether an SMTP error is worth retrying. 4xx
// codes are transient per RFC 5321; 5xx are permanent rejections.
// Anything that is not an SMTP status, like a connect failure, counts
// as temporary.
func IsTemporary(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Temporary()
	}
	return true
}
