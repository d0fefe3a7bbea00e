package webhooks

import (
	"context"
	"math"
	"time"

	"github.com/mustardtree/portal/pkg/async"
	"github.com/mustardtree/portal/pkg/observability"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns five attempts with doubling delays from 1s,
// capped at 5 minutes
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff retry logic
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy fills zero fields of config with the defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a failed delivery gets another attempt
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil {
		return false
	}
	return attempts < p.config.MaxAttempts
}

// NextRetryDelay is InitialDelay * multiplier^(attempts-1), capped at MaxDelay
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}

	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// RetryPending re-sends every delivery whose retry time has passed and
// returns how many were attempted. Deliveries of removed or inactive
// webhooks are marked failed.
func (m *Manager) RetryPending(ctx context.Context) int {
	ids := m.deliveries.DueRetries(m.now())
	if len(ids) == 0 {
		return 0
	}

	hooks, err := m.hooks.Load(ctx)
	if err != nil {
		observability.GetLogger(ctx).WithError(err).Warn("failed to load webhooks for retry")
		return 0
	}
	byID := make(map[string]Webhook, len(hooks))
	for _, h := range hooks {
		byID[h.ID] = h
	}

	var due []retry
	for _, id := range ids {
		delivery, ok := m.deliveries.Get(id)
		if !ok {
			continue
		}
		hook, ok := byID[delivery.WebhookID]
		if !ok || !hook.Active {
			reason := "webhook not found"
			if ok {
				reason = "webhook is inactive"
			}
			m.deliveries.Update(id, func(d *DeliveryLog) {
				now := m.now()
				d.Status = DeliveryStatusFailed
				d.ErrorMessage = reason
				d.NextRetryAt = nil
				d.CompletedAt = &now
			})
			m.observe(DeliveryStatusFailed)
			continue
		}
		due = append(due, retry{hook: hook, delivery: delivery})
	}

	for _, err := range async.Batch(ctx, due, retryWorkers, m.cfg.Timeout, func(ctx context.Context, r retry) error {
		m.attempt(ctx, r.hook, &r.delivery)
		return nil
	}) {
		observability.GetLogger(ctx).WithError(err).Error("webhook retry aborted")
	}
	return len(due)
}

// retryWorkers bounds concurrent retries
const retryWorkers = 4

type retry struct {
	hook     Webhook
	delivery DeliveryLog
}
