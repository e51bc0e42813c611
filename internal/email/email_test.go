package email

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/postwave/postwave/internal/attachment"
)

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"simple", "user@example.com", "example.com"},
		{"with name", "User Name <user@example.com>", "example.com"},
		{"uppercase", "user@EXAMPLE.COM", "example.com"},
		{"mixed case", "user@Sub.Example.Com", "sub.example.com"},
		{"invalid no at", "invalid", ""},
		{"invalid empty before at", "@example.com", ""},
		{"invalid empty after at", "user@", ""},
		{"empty", "", ""},
		{"subdomain", "user@mail.example.com", "mail.example.com"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ExtractDomain(tc.email)
			if result != tc.expected {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tc.email, result, tc.expected)
			}
		})
	}
}

func TestExtractLocalPart(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"simple", "user@example.com", "user"},
		{"uppercase", "Admin@example.com", "admin"},
		{"with name", "Info <info@example.com>", "info"},
		{"invalid", "invalid", ""},
		{"empty local", "@example.com", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ExtractLocalPart(tc.email)
			if result != tc.expected {
				t.Errorf("ExtractLocalPart(%q) = %q, want %q", tc.email, result, tc.expected)
			}
		})
	}
}

func TestBuildMIMEPlain(t *testing.T) {
	raw, err := BuildMIME("s@example.com", "r@example.com", "Hello", "plain body", nil)
	if err != nil {
		t.Fatalf("BuildMIME failed: %v", err)
	}

	msg := string(raw)
	for _, want := range []string{
		"From: s@example.com",
		"To: r@example.com",
		"Subject: Hello",
		"Content-Type: text/plain; charset=utf-8",
		base64.StdEncoding.EncodeToString([]byte("plain body")),
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("MIME missing %q", want)
		}
	}
}

func TestBuildMIMEWithAttachment(t *testing.T) {
	raw, err := BuildMIME("s@example.com", "r@example.com", "Subj", "<html><body>Hi</body></html>",
		[]attachment.Resolved{{Name: "a.pdf", MIMEType: "application/pdf", Data: []byte("pdf-bytes")}})
	if err != nil {
		t.Fatalf("BuildMIME failed: %v", err)
	}

	msg := string(raw)
	if !strings.Contains(msg, "multipart/mixed") {
		t.Error("expected multipart/mixed message")
	}
	if !strings.Contains(msg, "text/html") {
		t.Error("HTML body should produce a text/html part")
	}
	if !strings.Contains(msg, `filename="a.pdf"`) {
		t.Error("missing attachment disposition")
	}
	if !strings.Contains(msg, base64.StdEncoding.EncodeToString([]byte("pdf-bytes"))) {
		t.Error("missing base64 attachment payload")
	}
}

func TestBuildMIMESubjectEncoding(t *testing.T) {
	raw, err := BuildMIME("s@example.com", "r@example.com", "Résumé time", "body", nil)
	if err != nil {
		t.Fatalf("BuildMIME failed: %v", err)
	}
	if !strings.Contains(string(raw), "=?utf-8?q?") {
		t.Error("non-ASCII subject should be Q-encoded")
	}
}

func TestIsHTML(t *testing.T) {
	if !IsHTML("  <HTML><body>x</body></HTML>") {
		t.Error("expected HTML detection")
	}
	if IsHTML("plain text with <3") {
		t.Error("plain text misdetected as HTML")
	}
}
