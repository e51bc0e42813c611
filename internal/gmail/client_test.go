package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/postwave/postwave/internal/campaign"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticToken() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
}

func TestSend(t *testing.T) {
	var gotAuth string
	var gotRaw string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/messages/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotRaw = req.Raw

		json.NewEncoder(w).Encode(sendResponse{ID: "abc123"})
	}))
	defer srv.Close()

	c := NewClient("Sender <sender@example.com>", staticToken(), testLogger())
	c.baseURL = srv.URL

	id, err := c.Send(context.Background(), &campaign.Message{
		To:      "rcpt@example.com",
		Subject: "Hello",
		Body:    "Plain body",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if id != "abc123" {
		t.Errorf("unexpected message id %q", id)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}

	mime, err := base64.URLEncoding.DecodeString(gotRaw)
	if err != nil {
		t.Fatalf("raw is not base64url: %v", err)
	}
	msg := string(mime)
	for _, want := range []string{
		"From: Sender <sender@example.com>",
		"To: rcpt@example.com",
		"Subject: Hello",
		"Content-Type: text/plain; charset=utf-8",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("MIME missing %q", want)
		}
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"code":429,"message":"Rate limit exceeded"}}`)
	}))
	defer srv.Close()

	c := NewClient("sender@example.com", staticToken(), testLogger())
	c.baseURL = srv.URL

	_, err := c.Send(context.Background(), &campaign.Message{To: "r@example.com", Subject: "x", Body: "y"})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("unexpected status %d", apiErr.StatusCode)
	}
	if !IsTemporary(err) {
		t.Error("429 should be temporary")
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 503}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"forbidden", &APIError{StatusCode: 403}, false},
		{"transport", errors.New("connection reset"), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTemporary(tc.err); got != tc.want {
				t.Errorf("IsTemporary = %v, want %v", got, tc.want)
			}
		})
	}
}
