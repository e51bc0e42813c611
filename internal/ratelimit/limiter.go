// Package ratelimit implements a fixed-window request counter.
package ratelimit

import (
	"strconv"
	"sync"
	"time"
)

// Config contains rate limit values for one window class.
type Config struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// Result contains the rate limit check result.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration // zero when allowed
}

// entry tracks one (client, window) counter.
type entry struct {
	count     int
	resetTime time.Time
}

// Limiter implements a best-effort fixed-window counter. It is scoped to a
// single process and provides no cross-instance guarantee; it is an abuse
// deterrent, not a hard quota. Construct one per process and inject it
// where needed so tests can use fresh instances.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewLimiter creates a rate limiter and starts its background sweep.
func NewLimiter(sweepInterval time.Duration) *Limiter {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	l := &Limiter{
		entries:       make(map[string]*entry),
		now:           time.Now,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}

	go l.sweepLoop()

	return l
}

// Check records one request for clientKey and reports whether it is within
// cfg. The first request of a window initializes the counter; once the
// counter reaches cfg.MaxRequests further requests are refused with a
// RetryAfter hint. A cfg.MaxRequests of zero means unlimited.
func (l *Limiter) Check(clientKey string, cfg Config) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := windowKey(clientKey, now, cfg.Window)

	e, ok := l.entries[key]
	if !ok {
		e = &entry{resetTime: now.Add(cfg.Window)}
		l.entries[key] = e
	}

	if cfg.MaxRequests > 0 && e.count >= cfg.MaxRequests {
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  e.resetTime,
			RetryAfter: e.resetTime.Sub(now),
		}
	}

	e.count++

	remaining := 0
	if cfg.MaxRequests > 0 {
		remaining = cfg.MaxRequests - e.count
	}

	return Result{
		Allowed:   true,
		Remaining: remaining,
		ResetTime: e.resetTime,
	}
}

// Stop terminates the background sweep.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// sweep removes entries whose window has passed. Correctness does not
// depend on it; window-indexed keys make stale entries unreachable.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, e := range l.entries {
		if now.After(e.resetTime) {
			delete(l.entries, key)
		}
	}
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func windowKey(clientKey string, now time.Time, window time.Duration) string {
	if window <= 0 {
		return clientKey
	}
	idx := now.UnixNano() / int64(window)
	return clientKey + ":" + strconv.FormatInt(idx, 10)
}
