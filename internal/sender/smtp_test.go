package sender

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/emersion/go-smtp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSMTPSenderDefaultPorts(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "relay.example.com"}, testLogger())
	if s.cfg.Port != 587 {
		t.Errorf("STARTTLS default port = %d, want 587", s.cfg.Port)
	}

	s = NewSMTPSender(SMTPConfig{Host: "relay.example.com", UseTLS: true}, testLogger())
	if s.cfg.Port != 465 {
		t.Errorf("implicit TLS default port = %d, want 465", s.cfg.Port)
	}

	s = NewSMTPSender(SMTPConfig{Host: "relay.example.com", Port: 2525}, testLogger())
	if s.cfg.Port != 2525 {
		t.Errorf("explicit port = %d, want 2525", s.cfg.Port)
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "transient status",
			err:  &smtp.SMTPError{Code: 451, Message: "try again later"},
			want: true,
		},
		{
			name: "permanent rejection",
			err:  &smtp.SMTPError{Code: 550, Message: "no such user"},
			want: false,
		},
		{
			name: "wrapped permanent rejection",
			err:  fmt.Errorf("submit: %w", &smtp.SMTPError{Code: 554, Message: "refused"}),
			want: false,
		},
		{
			name: "connect failure",
			err:  errors.New("dial tcp: connection refused"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporary(tt.err); got != tt.want {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.want)
			}
		})
	}
}
