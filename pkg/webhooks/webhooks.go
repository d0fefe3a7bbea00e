package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mustardtree/portal/pkg/async"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/storage"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventPostPublished      EventType = "post.published"
	EventDocumentUploaded   EventType = "document.uploaded"
	EventVersionAdded       EventType = "document.version_added"
	EventVersionDeleted     EventType = "document.version_deleted"
	EventPermissionsUpdated EventType = "document.permissions_updated"
)

var knownEvents = map[EventType]bool{
	EventPostPublished:      true,
	EventDocumentUploaded:   true,
	EventVersionAdded:       true,
	EventVersionDeleted:     true,
	EventPermissionsUpdated: true,
}

// Format selects the body shape sent to a webhook
type Format string

const (
	FormatJSON  Format = "json"
	FormatSlack Format = "slack"
	FormatTeams Format = "teams"
)

var (
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrInvalidWebhook  = errors.New("invalid webhook")
)

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Publisher is implemented by anything that fans out portal events
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, data map[string]interface{})
}

// Webhook is a subscription of an external URL to portal events
type Webhook struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Events      []EventType `json:"events"`
	Secret      string      `json:"secret,omitempty"`
	Format      Format      `json:"format"`
	Active      bool        `json:"active"`
	Description string      `json:"description,omitempty"`
	CreatedBy   string      `json:"created_by,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Redacted returns a copy safe to hand out over the API
func (w Webhook) Redacted() Webhook {
	if w.Secret != "" {
		w.Secret = "********"
	}
	return w
}

func (w Webhook) subscribed(t EventType) bool {
	for _, e := range w.Events {
		if e == t {
			return true
		}
	}
	return false
}

// WebhookUpdate holds the fields of an update; nil fields are unchanged
type WebhookUpdate struct {
	URL         *string      `json:"url,omitempty"`
	Events      *[]EventType `json:"events,omitempty"`
	Secret      *string      `json:"secret,omitempty"`
	Format      *Format      `json:"format,omitempty"`
	Active      *bool        `json:"active,omitempty"`
	Description *string      `json:"description,omitempty"`
}

func validate(w *Webhook) error {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidWebhook)
	}
	if len(w.Events) == 0 {
		return fmt.Errorf("%w: at least one event type is required", ErrInvalidWebhook)
	}
	for _, e := range w.Events {
		if !knownEvents[e] {
			return fmt.Errorf("%w: unknown event type %q", ErrInvalidWebhook, e)
		}
	}
	switch w.Format {
	case "":
		w.Format = FormatJSON
	case FormatJSON, FormatSlack, FormatTeams:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidWebhook, w.Format)
	}
	return nil
}

// Config tunes delivery
type Config struct {
	Timeout time.Duration
	// PerMinute caps deliveries to each webhook
	PerMinute int
	Retry     RetryConfig
	MaxLogs   int
}

// DefaultConfig returns a 10s timeout, 100 deliveries per minute per webhook
// and the default retry schedule
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		PerMinute: 100,
		Retry:     DefaultRetryConfig(),
		MaxLogs:   1000,
	}
}

// Manager stores webhook subscriptions and delivers events to them
type Manager struct {
	hooks      *storage.Collection[Webhook]
	client     *http.Client
	deliveries *DeliveryLogStore
	policy     *RetryPolicy
	cfg        Config
	metrics    *observability.Metrics
	now        func() time.Time

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter

	inflight async.Group
}

// NewManager keeps subscriptions under storage.KeyWebhooks. client may be
// nil, metrics may be nil.
func NewManager(kv storage.KV, client *http.Client, cfg Config, metrics *observability.Metrics, opts ...storage.CollectionOption) *Manager {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = def.PerMinute
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Manager{
		hooks:      storage.NewCollection[Webhook](kv, storage.KeyWebhooks, nil, opts...),
		client:     client,
		deliveries: NewDeliveryLogStore(cfg.MaxLogs),
		policy:     NewRetryPolicy(cfg.Retry),
		cfg:        cfg,
		metrics:    metrics,
		now:        time.Now,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Register validates and stores a new webhook. It starts active.
func (m *Manager) Register(ctx context.Context, in Webhook) (*Webhook, error) {
	if err := validate(&in); err != nil {
		return nil, err
	}
	now := m.now()
	in.ID = uuid.New().String()
	in.Active = true
	in.CreatedAt = now
	in.UpdatedAt = now

	if _, err := m.hooks.Update(ctx, func(items []Webhook) ([]Webhook, error) {
		return append(items, in), nil
	}); err != nil {
		return nil, fmt.Errorf("failed to store webhook: %w", err)
	}

	observability.GetLogger(ctx).WithFields(map[string]interface{}{
		"webhook_id": in.ID,
		"url":        in.URL,
	}).Info("webhook registered")
	return &in, nil
}

// Unregister removes a webhook
func (m *Manager) Unregister(ctx context.Context, id string) error {
	_, err := m.hooks.Update(ctx, func(items []Webhook) ([]Webhook, error) {
		for i := range items {
			if items[i].ID == id {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, ErrWebhookNotFound
	})
	if err != nil {
		return err
	}

	m.limitMu.Lock()
	delete(m.limiters, id)
	m.limitMu.Unlock()
	return nil
}

// Update merges the non-nil fields of in
func (m *Manager) Update(ctx context.Context, id string, in WebhookUpdate) (*Webhook, error) {
	var updated Webhook
	_, err := m.hooks.Update(ctx, func(items []Webhook) ([]Webhook, error) {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			w := items[i]
			if in.URL != nil {
				w.URL = *in.URL
			}
			if in.Events != nil {
				w.Events = *in.Events
			}
			if in.Secret != nil {
				w.Secret = *in.Secret
			}
			if in.Format != nil {
				w.Format = *in.Format
			}
			if in.Active != nil {
				w.Active = *in.Active
			}
			if in.Description != nil {
				w.Description = *in.Description
			}
			if err := validate(&w); err != nil {
				return nil, err
			}
			w.UpdatedAt = m.now()
			items[i] = w
			updated = w
			return items, nil
		}
		return nil, ErrWebhookNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Get returns one webhook
func (m *Manager) Get(ctx context.Context, id string) (*Webhook, error) {
	items, err := m.hooks.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range items {
		if w.ID == id {
			return &w, nil
		}
	}
	return nil, ErrWebhookNotFound
}

// List returns every webhook
func (m *Manager) List(ctx context.Context) ([]Webhook, error) {
	return m.hooks.Load(ctx)
}

// Deliveries returns the newest delivery logs of a webhook
func (m *Manager) Deliveries(webhookID string, limit int) []*DeliveryLog {
	return m.deliveries.GetByWebhook(webhookID, limit)
}

// Stats summarises the deliveries of a webhook
func (m *Manager) Stats(webhookID string) DeliveryStats {
	return m.deliveries.GetStats(webhookID)
}

// Publish sends an event to every active webhook subscribed to eventType.
// Deliveries run in the background and outlive the caller's context.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data map[string]interface{}) {
	logger := observability.GetLogger(ctx).WithField("event_type", string(eventType))

	hooks, err := m.hooks.Load(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to load webhooks, event dropped")
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: m.now(),
		Data:      data,
	}
	deliveryCtx := observability.WithLogger(context.WithoutCancel(ctx), logger)

	for _, hook := range hooks {
		if !hook.Active || !hook.subscribed(eventType) {
			continue
		}
		payload, err := encode(hook.Format, event)
		if err != nil {
			logger.WithError(err).WithField("webhook_id", hook.ID).Error("failed to encode event")
			continue
		}

		delivery := &DeliveryLog{
			ID:        uuid.New().String(),
			WebhookID: hook.ID,
			EventID:   event.ID,
			EventType: event.Type,
			URL:       hook.URL,
			Status:    DeliveryStatusPending,
			CreatedAt: m.now(),
			payload:   payload,
		}
		m.deliveries.Add(delivery)

		m.inflight.Go(deliveryCtx, m.cfg.Timeout, "webhook delivery", func(ctx context.Context) error {
			m.attempt(ctx, hook, delivery)
			return nil
		})
	}
}

// Wait blocks until in-flight deliveries finish
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// attempt sends one delivery and records the outcome
func (m *Manager) attempt(ctx context.Context, hook Webhook, delivery *DeliveryLog) {
	start := m.now()
	statusCode, err := m.send(ctx, hook, delivery)
	now := m.now()

	m.deliveries.Update(delivery.ID, func(d *DeliveryLog) {
		d.Attempts++
		d.StatusCode = statusCode
		d.Duration = now.Sub(start)
		switch {
		case err == nil:
			d.Status = DeliveryStatusSuccess
			d.ErrorMessage = ""
			d.NextRetryAt = nil
			d.CompletedAt = &now
		case m.policy.ShouldRetry(d.Attempts, err):
			d.Status = DeliveryStatusRetrying
			next := now.Add(m.policy.NextRetryDelay(d.Attempts))
			d.NextRetryAt = &next
			d.ErrorMessage = err.Error()
		default:
			d.Status = DeliveryStatusFailed
			d.NextRetryAt = nil
			d.ErrorMessage = err.Error()
			d.CompletedAt = &now
		}
		m.observe(d.Status)
	})

	if err != nil {
		observability.GetLogger(ctx).WithError(err).WithFields(map[string]interface{}{
			"webhook_id":  hook.ID,
			"delivery_id": delivery.ID,
		}).Warn("webhook delivery failed")
	}
}

func (m *Manager) observe(status DeliveryStatus) {
	if m.metrics != nil {
		m.metrics.WebhookDeliveriesTotal.WithLabelValues(string(status)).Inc()
	}
}

func (m *Manager) limiter(id string) *rate.Limiter {
	m.limitMu.Lock()
	defer m.limitMu.Unlock()
	l, ok := m.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.cfg.PerMinute)), m.cfg.PerMinute)
		m.limiters[id] = l
	}
	return l
}

// send posts the stored payload to the webhook
func (m *Manager) send(ctx context.Context, hook Webhook, delivery *DeliveryLog) (int, error) {
	if !m.limiter(hook.ID).Allow() {
		return 0, fmt.Errorf("rate limit exceeded for webhook %s", hook.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(delivery.payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mustardtree-portal-webhooks")
	req.Header.Set("X-Portal-Event", string(delivery.EventType))
	req.Header.Set("X-Portal-Event-ID", delivery.EventID)
	req.Header.Set("X-Portal-Delivery", delivery.ID)
	if hook.Secret != "" {
		req.Header.Set("X-Portal-Signature", Sign(delivery.payload, hook.Secret))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func encode(format Format, event *Event) ([]byte, error) {
	switch format {
	case FormatSlack:
		return json.Marshal(FormatSlackMessage(event))
	case FormatTeams:
		return json.Marshal(FormatTeamsMessage(event))
	default:
		return json.Marshal(event)
	}
}

// Sign returns the X-Portal-Signature value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an X-Portal-Signature header on the receiving side
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
