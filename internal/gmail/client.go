// Package gmail delivers messages through the Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/postwave/postwave/internal/campaign"
	"github.com/postwave/postwave/internal/email"
)

const defaultBaseURL = "https://gmail.googleapis.com"

// APIError is a non-2xx response from the API. Temporary returns true
// for statuses worth retrying (rate limiting, server-side failures).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gmail API: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("gmail API: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporary reports whether a send error is worth retrying. Transport
// errors count as temporary; API errors answer for themselves.
func IsTemporary(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// Client is a Gmail API client for one sending account. It satisfies
// campaign.Sender.
type Client struct {
	baseURL    string
	from       string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. The token source supplies and refreshes
// the OAuth2 access token; from is the RFC 5322 From header value of
// the authorized account.
func NewClient(from string, ts oauth2.TokenSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		from:    from,
		httpClient: &http.Client{
			Transport: &oauth2.Transport{Source: ts},
			Timeout:   30 * time.Second,
		},
		logger: logger.With("component", "gmail"),
	}
}

type sendRequest struct {
	Raw string `json:"raw"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send delivers one message and returns the provider message ID.
func (c *Client) Send(ctx context.Context, msg *campaign.Message) (string, error) {
	raw, err := email.BuildMIME(c.from, msg.To, msg.Subject, msg.Body, msg.Attachments)
	if err != nil {
		return "", fmt.Errorf("build message: %w", err)
	}

	req := sendRequest{Raw: base64.URLEncoding.EncodeToString(raw)}

	var resp sendResponse
	if err := c.request(ctx, http.MethodPost, "/gmail/v1/users/me/messages/send", req, &resp); err != nil {
		return "", err
	}

	c.logger.Debug("message accepted", "to", msg.To, "message_id", resp.ID)
	return resp.ID, nil
}

// request performs an HTTP request against the API.
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Message = errResp.Error.Message
		}
		return apiErr
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
