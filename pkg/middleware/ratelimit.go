package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/mustardtree/portal/pkg/observability"
)

// RateLimitConfig defines login throttling
type RateLimitConfig struct {
	// MaxAttempts is the number of attempts allowed per window
	MaxAttempts int
	// Window is the fixed window length, starting at the first attempt
	Window time.Duration
}

// DefaultRateLimitConfig returns 5 attempts per 15 minutes
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
	}
}

// RateLimiter counts attempts per identifier in fixed windows held in
// process memory. Every call to IsRateLimited is an attempt.
type RateLimiter struct {
	config  *RateLimitConfig
	windows map[string]*window
	mu      sync.Mutex
	now     func() time.Time
	metrics *observability.Metrics
}

type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig, metrics *observability.Metrics) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
		metrics: metrics,
	}
}

// IsRateLimited records an attempt for id. A fresh window opens when none
// exists or the previous one has passed; once the window holds MaxAttempts
// further attempts are refused without being counted.
func (rl *RateLimiter) IsRateLimited(ctx context.Context, id string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[id]
	if !ok || now.After(w.resetAt) {
		rl.windows[id] = &window{count: 1, resetAt: now.Add(rl.config.Window)}
		return false, nil
	}

	if w.count >= rl.config.MaxAttempts {
		if rl.metrics != nil {
			rl.metrics.RateLimitedTotal.WithLabelValues("memory").Inc()
		}
		return true, nil
	}
	w.count++
	return false, nil
}

// RemainingTime returns how long until id's window resets, or zero
func (rl *RateLimiter) RemainingTime(ctx context.Context, id string) (time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[id]
	if !ok {
		return 0, nil
	}
	return max(0, w.resetAt.Sub(rl.now())), nil
}

// Reset forgets id
func (rl *RateLimiter) Reset(ctx context.Context, id string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, id)
	return nil
}

// Cleanup removes expired windows and returns how many were dropped
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, w := range rl.windows {
		if now.After(w.resetAt) {
			delete(rl.windows, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identifiers
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
