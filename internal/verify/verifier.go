// Package verify classifies recipient addresses before a campaign send.
package verify

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"regexp"
	"strings"
)

// Result is the verification outcome for a single address.
type Result struct {
	Valid      bool   `json:"is_valid"`
	Score      int    `json:"score"` // 0..100
	Disposable bool   `json:"is_disposable"`
	RoleBased  bool   `json:"is_role_based"`
	Reason     string `json:"reason,omitempty"`
}

// Verifier classifies a batch of addresses. Implementations must run
// independently per address: a failure verifying one address marks that
// address invalid with a reason instead of aborting the batch. The
// returned error is reserved for the verifier being unusable as a whole.
type Verifier interface {
	VerifyBatch(ctx context.Context, emails []string) (map[string]Result, error)
}

// MXResolver looks up mail exchangers for a domain. net.DefaultResolver
// satisfies it.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
}

// domainPattern validates domain name format (RFC 1035)
var domainPattern = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// Options configures the heuristic verifier.
type Options struct {
	// CheckMX enables an MX lookup per distinct domain. Requires Resolver.
	CheckMX  bool
	Resolver MXResolver
}

// Heuristic is a local-rules Verifier: address syntax, domain shape,
// disposable-domain and role-based-local lists, and optionally an MX
// lookup per domain. It makes no per-address network calls beyond MX.
type Heuristic struct {
	opts Options
}

// NewHeuristic creates a heuristic verifier.
func NewHeuristic(opts Options) *Heuristic {
	if opts.CheckMX && opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	return &Heuristic{opts: opts}
}

// VerifyBatch classifies each address. MX results are cached per domain
// within the batch so a thousand addresses at one provider cost one lookup.
func (h *Heuristic) VerifyBatch(ctx context.Context, emails []string) (map[string]Result, error) {
	results := make(map[string]Result, len(emails))
	mxCache := make(map[string]error)

	for _, email := range emails {
		results[email] = h.verifyOne(ctx, email, mxCache)
	}

	return results, nil
}

func (h *Heuristic) verifyOne(ctx context.Context, email string, mxCache map[string]error) Result {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return Result{Valid: false, Score: 0, Reason: "malformed address"}
	}

	local, domain, ok := splitAddress(addr.Address)
	if !ok {
		return Result{Valid: false, Score: 0, Reason: "malformed address"}
	}

	if !domainPattern.MatchString(domain) {
		return Result{Valid: false, Score: 0, Reason: "invalid domain"}
	}

	if disposableDomains[domain] {
		return Result{Valid: false, Score: 10, Disposable: true, Reason: "disposable domain"}
	}

	result := Result{Valid: true, Score: 100}

	if roleBasedLocals[strings.ToLower(local)] {
		result.RoleBased = true
		result.Score = 70
	}

	if h.opts.CheckMX {
		if err := h.lookupMX(ctx, domain, mxCache); err != nil {
			// A lookup failure downgrades this address only; the rest of
			// the batch proceeds.
			return Result{
				Valid:      false,
				Score:      0,
				Disposable: result.Disposable,
				RoleBased:  result.RoleBased,
				Reason:     err.Error(),
			}
		}
	}

	return result
}

func (h *Heuristic) lookupMX(ctx context.Context, domain string, cache map[string]error) error {
	if err, ok := cache[domain]; ok {
		return err
	}

	var outcome error
	records, err := h.opts.Resolver.LookupMX(ctx, domain)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			outcome = fmt.Errorf("no MX records for %s", domain)
		} else {
			outcome = fmt.Errorf("MX lookup failed for %s: %v", domain, err)
		}
	} else if len(records) == 0 {
		outcome = fmt.Errorf("no MX records for %s", domain)
	}

	cache[domain] = outcome
	return outcome
}

// splitAddress splits a parsed address into local part and lowercase domain.
func splitAddress(address string) (local, domain string, ok bool) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", false
	}
	return address[:at], strings.ToLower(address[at+1:]), true
}
