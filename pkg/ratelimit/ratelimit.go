// Package ratelimit implements fixed-window request counters for abuse
// mitigation. State is process-local and rebuilt on restart, which is
// acceptable for gating abusive traffic but not for billing-grade quotas.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy defines a fixed-window limit for a class of endpoints
type Policy struct {
	Window time.Duration
	Max    int
}

// Named policies per endpoint class. Webhook ingestion is generous, payment
// initiation is strict, credential exchange is very strict.
var (
	PolicyWebhook = Policy{Window: time.Minute, Max: 100}
	PolicyPayment = Policy{Window: time.Minute, Max: 30}
	PolicyOAuth   = Policy{Window: 15 * time.Minute, Max: 5}
	PolicyAPI     = Policy{Window: time.Minute, Max: 60}
)

// Result reports the outcome of a limit check
type Result struct {
	Limited   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks fixed-window counters keyed by client identifier.
// The clock is injected so window boundaries can be tested deterministically.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewLimiter creates a limiter using the wall clock
func NewLimiter() *Limiter {
	return NewLimiterWithClock(time.Now)
}

// NewLimiterWithClock creates a limiter with a custom clock
func NewLimiterWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     now,
	}
}

// Check counts a request against the identifier's current window and reports
// whether it exceeds the policy. The window resets once now >= resetAt.
func (l *Limiter) Check(identifier string, policy Policy) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(policy.Window)}
		l.windows[identifier] = w
	}

	w.count++

	remaining := policy.Max - w.count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Limited:   w.count > policy.Max,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

// Sweep evicts windows stale by more than one extra window length and returns
// the number of entries removed
func (l *Limiter) Sweep(grace time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if now.After(w.resetAt.Add(grace)) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs a background eviction loop until the context is cancelled
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "rate_limiter").Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down rate limiter sweeper")
			return
		case <-ticker.C:
			if removed := l.Sweep(interval); removed > 0 {
				logger.Debug().Int("removed", removed).Msg("evicted stale rate windows")
			}
		}
	}
}
