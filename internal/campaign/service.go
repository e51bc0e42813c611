// Package campaign orchestrates personalized bulk email sends.
//
// The orchestrator is deliberately sequential: recipients are processed
// one at a time, in input order, with a fixed pause between sends. That
// trades throughput for a predictable rate against the provider's own
// limits and keeps per-recipient error isolation trivial. One failed
// recipient never aborts the batch; every recipient gets exactly one
// SendResult.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postwave/postwave/internal/attachment"
	"github.com/postwave/postwave/internal/placeholder"
	"github.com/postwave/postwave/internal/verify"
)

// Batch-level precondition errors. When one of these is returned no send
// has been attempted and no Summary is produced.
var (
	ErrEmptyTemplate = errors.New("template has neither subject nor body")
	ErrNoSender      = errors.New("no sender configured")
	ErrVerification  = errors.New("verification failed")
	ErrAttachments   = errors.New("attachment resolution failed")
)

// ErrorChecker reports whether a send error is temporary and worth
// retrying.
type ErrorChecker func(err error) bool

// Service runs campaign sends against injected collaborators.
type Service struct {
	sender      Sender
	verifier    verify.Verifier
	fetcher     attachment.Fetcher
	suppression Suppression
	isTemporary ErrorChecker
	logger      *slog.Logger

	// sleep is swapped in tests so delay policy is observable without
	// wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Sender      Sender
	Verifier    verify.Verifier // nil disables VerifyFirst
	Fetcher     attachment.Fetcher
	Suppression Suppression  // nil disables suppression checks
	IsTemporary ErrorChecker // nil retries every error
	Logger      *slog.Logger
}

// NewService creates a campaign service.
func NewService(opts ServiceOptions) *Service {
	if opts.IsTemporary == nil {
		opts.IsTemporary = func(err error) bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		sender:      opts.Sender,
		verifier:    opts.Verifier,
		fetcher:     opts.Fetcher,
		suppression: opts.Suppression,
		isTemporary: opts.IsTemporary,
		logger:      opts.Logger.With("component", "campaign"),
		sleep:       sleepCtx,
	}
}

// Send processes recipients strictly in input order and returns a summary
// with one result per recipient, results[i] corresponding to
// recipients[i]. Precondition failures (unusable verifier, unresolvable
// required attachment, empty template) return an error before any send.
//
// Cancellation is checked at the top of each iteration and during the
// inter-send delay; remaining recipients are recorded as skipped with
// reason "cancelled" so the summary still covers the full input.
func (s *Service) Send(ctx context.Context, campaignID string, recipients []Recipient, tmpl Template, opts Options) (*Summary, error) {
	if s.sender == nil {
		return nil, ErrNoSender
	}
	if tmpl.Subject == "" && tmpl.Body == "" {
		return nil, ErrEmptyTemplate
	}
	applyDefaults(&opts)

	logger := s.logger.With("campaign_id", campaignID)

	skipReasons, err := s.buildSkipSet(ctx, recipients, opts)
	if err != nil {
		return nil, err
	}

	resolver := attachment.NewResolver(s.fetcher, logger)
	defer resolver.Clear()

	attachments, err := resolver.Resolve(ctx, opts.Attachments)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttachments, err)
	}

	results := make([]SendResult, 0, len(recipients))
	cancelled := false

	for i, rcpt := range recipients {
		if cancelled || ctx.Err() != nil {
			cancelled = true
			results = append(results, SendResult{Email: rcpt.Email, Status: StatusSkipped, Error: ReasonCancelled})
			continue
		}

		if reason, skip := s.shouldSkip(campaignID, rcpt.Email, skipReasons); skip {
			results = append(results, SendResult{Email: rcpt.Email, Status: StatusSkipped, Error: reason})
			logger.Debug("recipient skipped", "email", rcpt.Email, "reason", reason)
			// Skips are free: no send happened, so no pacing is needed.
			continue
		}

		result := s.sendOne(ctx, campaignID, rcpt, tmpl, attachments, opts, logger)
		results = append(results, result)

		// Pace attempted sends. The delay applies after every send
		// attempt (success or failure) except the last loop entry.
		if i < len(recipients)-1 {
			if err := s.sleep(ctx, opts.Delay); err != nil {
				cancelled = true
			}
		}
	}

	summary := summarize(results)
	logger.Info("campaign finished",
		"total", summary.Total,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)

	return summary, nil
}

// buildSkipSet runs the verification gate once over the full recipient
// set and returns reasons for addresses that must be skipped.
func (s *Service) buildSkipSet(ctx context.Context, recipients []Recipient, opts Options) (map[string]string, error) {
	if !opts.VerifyFirst || s.verifier == nil {
		return nil, nil
	}

	emails := make([]string, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		if seen[r.Email] {
			continue
		}
		seen[r.Email] = true
		emails = append(emails, r.Email)
	}

	verdicts, err := s.verifier.VerifyBatch(ctx, emails)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	reasons := make(map[string]string)
	for email, v := range verdicts {
		if v.Valid {
			continue
		}
		reason := v.Reason
		if reason == "" {
			reason = "address failed verification"
		}
		reasons[email] = reason
	}

	return reasons, nil
}

func (s *Service) shouldSkip(campaignID, email string, skipReasons map[string]string) (string, bool) {
	if reason, ok := skipReasons[email]; ok {
		return reason, true
	}

	if s.suppression == nil {
		return "", false
	}

	if unsubscribed, err := s.suppression.IsUnsubscribed(email); err == nil && unsubscribed {
		return ReasonUnsubscribed, true
	}
	if sent, err := s.suppression.WasSent(campaignID, email); err == nil && sent {
		return ReasonAlreadySent, true
	}

	return "", false
}

// sendOne personalizes and delivers to a single recipient, retrying
// temporary errors with exponential backoff. Its outcome stays local to
// the returned SendResult.
func (s *Service) sendOne(ctx context.Context, campaignID string, rcpt Recipient, tmpl Template, attachments []attachment.Resolved, opts Options, logger *slog.Logger) SendResult {
	data := personalizationData(rcpt)

	msg := &Message{
		CampaignID:  campaignID,
		To:          rcpt.Email,
		Subject:     placeholder.Render(tmpl.Subject, data),
		Body:        placeholder.Render(tmpl.Body, data),
		Attachments: attachments,
	}

	var lastErr error
	retries := 0

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			retries = attempt
			backoff := opts.RetryBackoff << (attempt - 1)
			if err := s.sleep(ctx, backoff); err != nil {
				break
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, opts.SendTimeout)
		id, err := s.sender.Send(sendCtx, msg)
		cancel()

		if err == nil {
			if s.suppression != nil {
				if err := s.suppression.MarkSent(campaignID, rcpt.Email); err != nil {
					logger.Error("failed to record sent ledger entry", "email", rcpt.Email, "error", err)
				}
			}
			logger.Debug("message sent", "email", rcpt.Email, "message_id", id, "retries", retries)
			return SendResult{Email: rcpt.Email, Status: StatusSuccess, RetryCount: retries}
		}

		lastErr = err
		if !s.isTemporary(err) {
			break
		}
	}

	logger.Warn("send failed", "email", rcpt.Email, "retries", retries, "error", lastErr)
	return SendResult{Email: rcpt.Email, Status: StatusError, Error: lastErr.Error(), RetryCount: retries}
}

// personalizationData merges the recipient's fields with built-in
// variables. Recipient fields win on collision.
func personalizationData(rcpt Recipient) map[string]string {
	builtin := map[string]string{
		"email":           rcpt.Email,
		"recipient_email": rcpt.Email,
	}
	if name, ok := rcpt.Data["name"]; ok && name != "" {
		builtin["recipient_name"] = name
	}
	return placeholder.Merge(builtin, rcpt.Data)
}

func summarize(results []SendResult) *Summary {
	summary := &Summary{Total: len(results), Results: results}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			summary.Sent++
		case StatusError:
			summary.Failed++
		case StatusSkipped:
			summary.Skipped++
		}
	}
	return summary
}

func applyDefaults(opts *Options) {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
