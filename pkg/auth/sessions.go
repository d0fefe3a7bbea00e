package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/mustardtree/portal/pkg/storage"
)

// DefaultSessionTTL is how long a local login stays valid
const DefaultSessionTTL = 24 * time.Hour

// SessionManager issues, looks up and revokes local sessions
type SessionManager struct {
	sessions *storage.Collection[Session]
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager stores sessions under storage.KeySessions
func NewSessionManager(kv storage.KV, ttl time.Duration, opts ...storage.CollectionOption) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		sessions: storage.NewCollection[Session](kv, storage.KeySessions, nil, opts...),
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL returns the session lifetime
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Create issues a session for accountID. The raw token is returned once and
// never stored. Expired sessions are dropped in the same write.
func (m *SessionManager) Create(ctx context.Context, accountID string) (string, *Session, error) {
	token, hash, prefix, err := GenerateSessionToken()
	if err != nil {
		return "", nil, err
	}

	now := m.now()
	session := Session{
		TokenHash:   hash,
		TokenPrefix: prefix,
		AccountID:   accountID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.ttl),
	}

	_, err = m.sessions.Update(ctx, func(items []Session) ([]Session, error) {
		live := items[:0]
		for _, s := range items {
			if !s.Expired(now) {
				live = append(live, s)
			}
		}
		return append(live, session), nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to store session: %w", err)
	}

	return token, &session, nil
}

// Lookup returns the live session for token
func (m *SessionManager) Lookup(ctx context.Context, token string) (*Session, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return nil, ErrSessionNotFound
	}

	items, err := m.sessions.Load(ctx)
	if err != nil {
		return nil, err
	}

	hash := HashToken(token)
	for _, s := range items {
		if s.TokenHash != hash {
			continue
		}
		if s.Expired(m.now()) {
			return nil, ErrSessionExpired
		}
		return &s, nil
	}
	return nil, ErrSessionNotFound
}

// Revoke deletes the session for token. Unknown tokens are not an error.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	hash := HashToken(token)
	_, err := m.sessions.Update(ctx, func(items []Session) ([]Session, error) {
		for i, s := range items {
			if s.TokenHash == hash {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, storage.ErrSkipWrite
	})
	return err
}

// CleanupExpired removes expired sessions and returns how many were dropped
func (m *SessionManager) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0
	_, err := m.sessions.Update(ctx, func(items []Session) ([]Session, error) {
		now := m.now()
		removed = 0
		live := items[:0]
		for _, s := range items {
			if s.Expired(now) {
				removed++
				continue
			}
			live = append(live, s)
		}
		if removed == 0 {
			return nil, storage.ErrSkipWrite
		}
		return live, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Active counts unexpired sessions
func (m *SessionManager) Active(ctx context.Context) (int, error) {
	items, err := m.sessions.Load(ctx)
	if err != nil {
		return 0, err
	}
	now := m.now()
	n := 0
	for _, s := range items {
		if !s.Expired(now) {
			n++
		}
	}
	return n, nil
}
