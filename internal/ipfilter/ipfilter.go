// Package ipfilter restricts the management API to operator networks.
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter answers whether a client address may reach the API. An empty
// filter allows everyone.
type Filter struct {
	allowed []netip.Prefix
	logger  *slog.Logger
}

// New builds a filter from a list of IPs and CIDR ranges. Entries that
// do not parse are logged and skipped rather than failing startup.
func New(allowedIPs []string, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}

	for _, entry := range allowedIPs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("invalid CIDR in allowed_ips", "cidr", entry, "error", err)
				continue
			}
			f.allowed = append(f.allowed, prefix)
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("invalid IP in allowed_ips", "ip", entry, "error", err)
			continue
		}
		f.allowed = append(f.allowed, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return f
}

// Enabled reports whether any networks are configured.
func (f *Filter) Enabled() bool {
	return len(f.allowed) > 0
}

// Allowed checks a client address, with or without a port.
func (f *Filter) Allowed(remoteAddr string) bool {
	if len(f.allowed) == 0 {
		return true
	}

	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range f.allowed {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// HTTPMiddleware refuses requests from outside the allowed networks.
// It expects RemoteAddr to already hold the real client IP, so it must
// sit behind chi's RealIP middleware when a proxy is in front.
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if !f.Allowed(r.RemoteAddr) {
			f.logger.Warn("access denied by IP filter",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
