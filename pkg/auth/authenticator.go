package auth

import (
	"context"
	"errors"
	"time"

	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/sanitize"
)

// Limiter throttles login attempts per client
type Limiter interface {
	IsRateLimited(ctx context.Context, id string) (bool, error)
	RemainingTime(ctx context.Context, id string) (time.Duration, error)
}

// LoginResult is returned by a successful Login
type LoginResult struct {
	Account   Account   `json:"user"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordAuthenticator checks local credentials and issues sessions
type PasswordAuthenticator struct {
	credentials *CredentialStore
	sessions    *SessionManager
	limiter     Limiter
	policy      PasswordPolicy
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewPasswordAuthenticator wires the authenticator. limiter and metrics may be nil.
func NewPasswordAuthenticator(credentials *CredentialStore, sessions *SessionManager, limiter Limiter, policy PasswordPolicy, logger *observability.Logger, metrics *observability.Metrics) *PasswordAuthenticator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if policy.MinLength <= 0 {
		policy = DefaultPasswordPolicy()
	}
	return &PasswordAuthenticator{
		credentials: credentials,
		sessions:    sessions,
		limiter:     limiter,
		policy:      policy,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Policy returns the password rules in force
func (a *PasswordAuthenticator) Policy() PasswordPolicy {
	return a.policy
}

func (a *PasswordAuthenticator) observe(outcome string) {
	if a.metrics != nil {
		a.metrics.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

// Login verifies username and password for the client identified by
// clientID. Unknown users and wrong passwords fail identically.
func (a *PasswordAuthenticator) Login(ctx context.Context, clientID, username, password string) (*LoginResult, error) {
	logger := observability.FromContext(ctx).WithField("client", clientID)

	if a.limiter != nil {
		limited, err := a.limiter.IsRateLimited(ctx, clientID)
		if err != nil {
			logger.WithError(err).Warn("login limiter unavailable")
		}
		if limited {
			remaining, err := a.limiter.RemainingTime(ctx, clientID)
			if err != nil {
				logger.WithError(err).Warn("login limiter unavailable")
			}
			a.observe("rate_limited")
			logger.Warn("login rate limited")
			return nil, &RateLimitError{Remaining: remaining}
		}
	}

	username = sanitize.Text(username)
	password = sanitize.Text(password)

	account, err := a.credentials.FindByUsername(ctx, username)
	if errors.Is(err, ErrAccountNotFound) {
		a.observe("failure")
		logger.WithField("username", username).Info("login failed")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		a.observe("error")
		return nil, err
	}
	if !CheckPassword(password, account.PasswordHash) {
		a.observe("failure")
		logger.WithField("username", username).Info("login failed")
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	if err := a.credentials.RecordLogin(ctx, account.ID, now); err != nil {
		a.observe("error")
		return nil, err
	}
	account.LastLoginAt = &now

	token, session, err := a.sessions.Create(ctx, account.ID)
	if err != nil {
		a.observe("error")
		return nil, err
	}

	a.observe("success")
	logger.WithField("account_id", account.ID).WithField("session", session.TokenPrefix).Info("login succeeded")

	return &LoginResult{
		Account:   account.View(),
		Token:     token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// ChangePassword replaces the password of accountID after checking the
// current one. Other sessions of the account stay valid.
func (a *PasswordAuthenticator) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if accountID == "" {
		return ErrNotAuthenticated
	}

	account, err := a.credentials.Get(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return ErrNotAuthenticated
	}
	if err != nil {
		return err
	}

	current = sanitize.Text(current)
	next = sanitize.Text(next)

	if !CheckPassword(current, account.PasswordHash) {
		return ErrInvalidCurrentPassword
	}
	if err := a.policy.Validate(next); err != nil {
		return err
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := a.credentials.SetPasswordHash(ctx, accountID, hash); err != nil {
		return err
	}

	observability.FromContext(ctx).WithField("account_id", accountID).Info("password changed")
	return nil
}

// Logout revokes the session behind token
func (a *PasswordAuthenticator) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return a.sessions.Revoke(ctx, token)
}
