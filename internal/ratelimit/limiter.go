// Package ratelimit caps how often each client may call each RPC method.
package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/icsrisk/internal/config"
)

// Wildcard is the limits key covering methods without their own entry.
const Wildcard = "*"

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Method   string
	Limit    int
	Reason   string
}

// sweepEvery bounds how often Allow scans for idle buckets.
const sweepEvery = time.Minute

type key struct{ client, method string }

type bucket struct {
	tokens   *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

// Limiter keeps one token bucket per (client, method). A bucket holds
// MaxRequests tokens and refills at MaxRequests per Window. All methods are
// safe on a nil *Limiter and allow everything. Buckets idle for a whole
// window are full again and get dropped.
type Limiter struct {
	limits map[string]config.RateLimit
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[key]*bucket
	lastSweep time.Time
}

// New returns a limiter for the configured limits, or nil when none applies.
// Method names match case-insensitively.
func New(limits map[string]config.RateLimit) *Limiter {
	if !HasLimits(limits) {
		return nil
	}
	folded := make(map[string]config.RateLimit, len(limits))
	for m, l := range limits {
		folded[strings.ToLower(m)] = l
	}
	return &Limiter{
		limits:  folded,
		now:     time.Now,
		buckets: make(map[key]*bucket),
	}
}

// HasLimits reports whether any entry is enabled.
func HasLimits(limits map[string]config.RateLimit) bool {
	for _, l := range limits {
		if l.Enabled() {
			return true
		}
	}
	return false
}

// lookup finds the limit for method: its own entry, then Wildcard.
func (l *Limiter) lookup(method string) (config.RateLimit, bool) {
	if lim, ok := l.limits[strings.ToLower(method)]; ok {
		return lim, lim.Enabled()
	}
	lim, ok := l.limits[Wildcard]
	return lim, ok && lim.Enabled()
}

// Allow consumes one token for client calling method.
func (l *Limiter) Allow(client, method string) CheckResult {
	if l == nil {
		return CheckResult{}
	}
	lim, ok := l.lookup(method)
	if !ok {
		return CheckResult{}
	}

	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	k := key{client, method}
	b := l.buckets[k]
	if b == nil {
		every := lim.Window / time.Duration(lim.MaxRequests)
		b = &bucket{
			tokens: rate.NewLimiter(rate.Every(every), lim.MaxRequests),
			window: lim.Window,
		}
		l.buckets[k] = b
	}
	b.lastSeen = now
	allowed := b.tokens.AllowN(now, 1)
	l.mu.Unlock()

	if allowed {
		return CheckResult{}
	}
	return CheckResult{
		Exceeded: true,
		Method:   method,
		Limit:    lim.MaxRequests,
		Reason: fmt.Sprintf("rate limit exceeded: %d %s requests per %s",
			lim.MaxRequests, method, lim.Window),
	}
}

// sweep drops buckets untouched for at least their window. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepEvery {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= b.window {
			delete(l.buckets, k)
		}
	}
}

// size returns the number of live buckets.
func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
