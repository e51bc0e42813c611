// Package dns caches MX lookups across verification batches.
package dns

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// Resolver wraps net.DefaultResolver with a TTL cache. The verifier
// already deduplicates domains within one batch; this cache carries
// results across batches so repeated campaigns to the same providers
// stay cheap.
type Resolver struct {
	ttl      time.Duration
	upstream interface {
		LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	}

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	records   []*net.MX
	err       error
	expiresAt time.Time
}

// NewResolver creates a caching resolver. A zero ttl means 5 minutes.
func NewResolver(ttl time.Duration) *Resolver {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		ttl:      ttl,
		upstream: net.DefaultResolver,
		cache:    make(map[string]cacheEntry),
	}
}

// LookupMX returns the domain's mail exchangers sorted by preference.
// A domain with no MX records resolves to itself, the implicit MX.
// Lookup errors are cached too so a dead domain in a large recipient
// list costs one upstream query per TTL.
func (r *Resolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	domain = strings.ToLower(domain)

	r.mu.RLock()
	entry, ok := r.cache[domain]
	r.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.records, entry.err
	}

	records, err := r.upstream.LookupMX(ctx, domain)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			records, err = []*net.MX{{Host: domain, Pref: 0}}, nil
		} else {
			records = nil
		}
	} else {
		sort.Slice(records, func(i, j int) bool {
			return records[i].Pref < records[j].Pref
		})
	}

	r.mu.Lock()
	r.cache[domain] = cacheEntry{
		records:   records,
		err:       err,
		expiresAt: time.Now().Add(r.ttl),
	}
	r.mu.Unlock()

	return records, err
}
