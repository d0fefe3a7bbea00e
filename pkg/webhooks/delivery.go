package webhooks

import (
	"sort"
	"sync"
	"time"
)

// DeliveryStatus represents the status of a webhook delivery
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog represents a webhook delivery and its attempts
type DeliveryLog struct {
	ID           string         `json:"id"`
	WebhookID    string         `json:"webhook_id"`
	EventID      string         `json:"event_id"`
	EventType    EventType      `json:"event_type"`
	URL          string         `json:"url"`
	Status       DeliveryStatus `json:"status"`
	StatusCode   int            `json:"status_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     int            `json:"attempts"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty"`

	// payload is the exact body, resent unchanged on retry
	payload []byte
}

// DeliveryLogStore keeps the most recent delivery logs in memory
type DeliveryLogStore struct {
	logs    map[string]*DeliveryLog
	mutex   sync.RWMutex
	maxLogs int
}

// NewDeliveryLogStore creates a store holding at most maxLogs entries
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]*DeliveryLog),
		maxLogs: maxLogs,
	}
}

// Add stores a delivery log, evicting the oldest tenth when full
func (s *DeliveryLogStore) Add(log *DeliveryLog) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.logs) >= s.maxLogs {
		s.evictOldest()
	}
	s.logs[log.ID] = log
}

// Get returns a copy of one delivery log
func (s *DeliveryLogStore) Get(id string) (DeliveryLog, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	log, ok := s.logs[id]
	if !ok {
		return DeliveryLog{}, false
	}
	return *log, true
}

// Update applies fn to a stored log under the store lock
func (s *DeliveryLogStore) Update(id string, fn func(*DeliveryLog)) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	log, ok := s.logs[id]
	if !ok {
		return false
	}
	fn(log)
	return true
}

// GetByWebhook returns copies of the logs of a webhook, newest first
func (s *DeliveryLogStore) GetByWebhook(webhookID string, limit int) []*DeliveryLog {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := []*DeliveryLog{}
	for _, log := range s.logs {
		if log.WebhookID == webhookID {
			c := *log
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// DueRetries returns the IDs of retrying deliveries whose time has come
func (s *DeliveryLogStore) DueRetries(now time.Time) []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var ids []string
	for id, log := range s.logs {
		if log.Status == DeliveryStatusRetrying && log.NextRetryAt != nil && !log.NextRetryAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *DeliveryLogStore) evictOldest() {
	logs := make([]*DeliveryLog, 0, len(s.logs))
	for _, log := range s.logs {
		logs = append(logs, log)
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].CreatedAt.Before(logs[j].CreatedAt)
	})

	evict := max(len(logs)/10, 1)
	for i := 0; i < evict && i < len(logs); i++ {
		delete(s.logs, logs[i].ID)
	}
}

// GetStats returns delivery statistics for a webhook
func (s *DeliveryLogStore) GetStats(webhookID string) DeliveryStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := DeliveryStats{WebhookID: webhookID}
	for _, log := range s.logs {
		if log.WebhookID != webhookID {
			continue
		}
		stats.Total++
		switch log.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
			stats.TotalDuration += log.Duration
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRetrying:
			stats.Retrying++
		}
	}

	if stats.Successful > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Successful)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

// DeliveryStats represents delivery statistics
type DeliveryStats struct {
	WebhookID       string        `json:"webhook_id"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retrying        int           `json:"retrying"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	TotalDuration   time.Duration `json:"total_duration"`
}
