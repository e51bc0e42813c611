package campaign

import (
	"context"
	"time"

	"github.com/postwave/postwave/internal/attachment"
)

// Recipient is one target address plus its personalization data. Entries
// are processed independently; the caller deduplicates if desired.
type Recipient struct {
	Email string            `json:"email"`
	Data  map[string]string `json:"data,omitempty"`
}

// Template is the subject and body of a campaign message, with zero or
// more {{field}} tokens referencing recipient data.
type Template struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Status is the per-recipient outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Skip reasons recorded by the orchestrator itself. Verification skips
// carry the verifier's reason instead.
const (
	ReasonCancelled    = "cancelled"
	ReasonUnsubscribed = "unsubscribed"
	ReasonAlreadySent  = "already sent"
)

// SendResult is one recipient's outcome. Results are appended in input
// order and never mutated afterwards.
type SendResult struct {
	Email      string `json:"email"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// Summary is the auditable outcome of one campaign invocation.
// Invariant: Total == Sent+Failed+Skipped == len(Results).
type Summary struct {
	Total   int          `json:"total"`
	Sent    int          `json:"sent"`
	Failed  int          `json:"failed"`
	Skipped int          `json:"skipped"`
	Results []SendResult `json:"results"`
}

// Message is one personalized email handed to a Sender.
type Message struct {
	CampaignID  string
	To          string
	Subject     string
	Body        string
	Attachments []attachment.Resolved
}

// Sender delivers one message through an external mail API. The
// credential is owned by the adapter; the orchestrator never sees it.
// Implementations return a provider message ID on success and an error
// on any delivery failure.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Suppression answers whether an address must not be contacted. Both
// checks are consulted per recipient; a nil Suppression disables them.
type Suppression interface {
	IsUnsubscribed(email string) (bool, error)
	WasSent(campaignID, email string) (bool, error)
	MarkSent(campaignID, email string) error
}

// Options tunes one campaign invocation.
type Options struct {
	// VerifyFirst runs the verification gate over the full recipient set
	// before any send; invalid addresses are skipped.
	VerifyFirst bool `json:"verify_first"`

	// Delay is the pause between attempted sends. Skipped recipients do
	// not incur a delay. Zero means DefaultDelay.
	Delay time.Duration `json:"delay"`

	// Attachments are resolved once per invocation.
	Attachments []attachment.Descriptor `json:"attachments,omitempty"`

	// MaxRetries is the number of additional attempts per recipient on
	// temporary send errors.
	MaxRetries int `json:"max_retries"`

	// RetryBackoff is the base backoff between attempts; it doubles per
	// retry. Zero means DefaultRetryBackoff.
	RetryBackoff time.Duration `json:"retry_backoff"`

	// SendTimeout bounds each individual send call. Zero means
	// DefaultSendTimeout.
	SendTimeout time.Duration `json:"send_timeout"`
}

// Defaults applied by the orchestrator when an Options field is zero.
const (
	DefaultDelay        = time.Second
	DefaultRetryBackoff = 2 * time.Second
	DefaultSendTimeout  = time.Minute
)
