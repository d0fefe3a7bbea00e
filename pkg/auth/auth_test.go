package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mustardtree/portal/pkg/storage"
)

const testPassword = "Correct-Horse-42"

var (
	hashOnce sync.Once
	testHash string
)

// sharedHash avoids paying the bcrypt cost in every test.
func sharedHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := HashPassword(testPassword)
		require.NoError(t, err)
		testHash = h
	})
	return testHash
}

type fakeLimiter struct {
	limited   bool
	remaining time.Duration
	calls     []string
}

func (f *fakeLimiter) IsRateLimited(ctx context.Context, id string) (bool, error) {
	f.calls = append(f.calls, id)
	return f.limited, nil
}

func (f *fakeLimiter) RemainingTime(ctx context.Context, id string) (time.Duration, error) {
	return f.remaining, nil
}

type fixture struct {
	kv       storage.KV
	creds    *CredentialStore
	sessions *SessionManager
	limiter  *fakeLimiter
	auth     *PasswordAuthenticator
	account  *AdminAccount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := storage.NewMemoryKV()
	creds := NewCredentialStore(kv)
	sessions := NewSessionManager(kv, time.Hour)
	limiter := &fakeLimiter{}

	account, err := creds.Create(context.Background(), "admin", "admin@mustardtree.com", sharedHash(t), AccountAdmin)
	require.NoError(t, err)

	return &fixture{
		kv:       kv,
		creds:    creds,
		sessions: sessions,
		limiter:  limiter,
		auth:     NewPasswordAuthenticator(creds, sessions, limiter, DefaultPasswordPolicy(), nil, nil),
		account:  account,
	}
}

func TestRole_Rank(t *testing.T) {
	assert.Greater(t, RoleAdmin.Rank(), RoleStaff.Rank())
	assert.Greater(t, RoleStaff.Rank(), RoleCustomer.Rank())
	assert.Greater(t, RoleCustomer.Rank(), RoleNone.Rank())

	r, ok := ParseRole(" Admin ")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, r)
	_, ok = ParseRole("superuser")
	assert.False(t, ok)

	assert.Equal(t, RoleAdmin, AccountAdmin.Role())
	assert.Equal(t, RoleStaff, AccountEditor.Role())
}

func TestPasswordPolicy(t *testing.T) {
	policy := DefaultPasswordPolicy()

	assert.NoError(t, policy.Validate(testPassword))

	err := policy.Validate("short")
	var weak *WeakPasswordError
	require.ErrorAs(t, err, &weak)
	assert.ErrorIs(t, err, ErrWeakPassword)
	assert.Len(t, weak.Problems, 4, "length, uppercase, number and special are missing")

	tests := []struct {
		password string
		missing  string
	}{
		{"alllowercase1!xx", "uppercase"},
		{"ALLUPPERCASE1!XX", "lowercase"},
		{"NoDigitsHere!!xx", "number"},
		{"NoSpecials123xxx", "special"},
	}
	for _, tt := range tests {
		problems := policy.Problems(tt.password)
		require.Len(t, problems, 1, tt.password)
		assert.Contains(t, problems[0], tt.missing)
	}
}

func TestGeneratePassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		pw, err := GeneratePassword(16)
		require.NoError(t, err)
		assert.Len(t, pw, 16)
		assert.Empty(t, DefaultPasswordPolicy().Problems(pw), pw)
		assert.False(t, seen[pw])
		seen[pw] = true
	}

	pw, err := GeneratePassword(1)
	require.NoError(t, err)
	assert.Len(t, pw, 4)
}

func TestHashPassword(t *testing.T) {
	hash := sharedHash(t)
	assert.True(t, strings.HasPrefix(hash, "$2a$12$"))
	assert.True(t, CheckPassword(testPassword, hash))
	assert.False(t, CheckPassword("wrong", hash))
	assert.False(t, CheckPassword(testPassword, "not-a-hash"))
}

func TestSessionToken(t *testing.T) {
	token, hash, prefix, err := GenerateSessionToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, hash, 64)
	assert.Equal(t, HashToken(token), hash)
	assert.True(t, strings.HasPrefix(token, prefix))
	assert.NoError(t, ValidateTokenFormat(token))

	assert.Error(t, ValidateTokenFormat("sess_abc"))
	assert.Error(t, ValidateTokenFormat(TokenPrefix))
	assert.Error(t, ValidateTokenFormat(TokenPrefix+"!!!"))
}

func TestSessionManager(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	m := NewSessionManager(kv, time.Hour)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	token, session, err := m.Create(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), session.ExpiresAt)

	entry, err := kv.Get(ctx, storage.KeySessions)
	require.NoError(t, err)
	assert.NotContains(t, string(entry.Value), token, "raw token must not be persisted")

	got, err := m.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got.AccountID)

	_, err = m.Lookup(ctx, TokenPrefix+"AAAAAAAAAAAA")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	n, err := m.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	t.Run("expiry", func(t *testing.T) {
		now = now.Add(time.Hour)
		_, err := m.Lookup(ctx, token)
		assert.ErrorIs(t, err, ErrSessionExpired)

		removed, err := m.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		removed, err = m.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})

	t.Run("revoke", func(t *testing.T) {
		token, _, err := m.Create(ctx, "acct-2")
		require.NoError(t, err)
		require.NoError(t, m.Revoke(ctx, token))
		_, err = m.Lookup(ctx, token)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.NoError(t, m.Revoke(ctx, token))
	})
}

func TestCredentialStore_Bootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("configured hash", func(t *testing.T) {
		s := NewCredentialStore(storage.NewMemoryKV())
		pw, err := s.Bootstrap(ctx, BootstrapOptions{Username: "admin", Email: "a@b.co", PasswordHash: sharedHash(t), Production: true})
		require.NoError(t, err)
		assert.Empty(t, pw)

		acct, err := s.FindByUsername(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, AccountAdmin, acct.Role)
	})

	t.Run("production without hash", func(t *testing.T) {
		s := NewCredentialStore(storage.NewMemoryKV())
		_, err := s.Bootstrap(ctx, BootstrapOptions{Username: "admin", Production: true, Generate: true})
		assert.ErrorIs(t, err, ErrBootstrapRequired)
	})

	t.Run("development generates once", func(t *testing.T) {
		s := NewCredentialStore(storage.NewMemoryKV())
		pw, err := s.Bootstrap(ctx, BootstrapOptions{Username: "admin", Email: "a@b.co", Generate: true})
		require.NoError(t, err)
		require.Len(t, pw, 16)

		acct, err := s.FindByUsername(ctx, "admin")
		require.NoError(t, err)
		assert.True(t, CheckPassword(pw, acct.PasswordHash))

		again, err := s.Bootstrap(ctx, BootstrapOptions{Username: "admin", Generate: true})
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("duplicate username", func(t *testing.T) {
		s := NewCredentialStore(storage.NewMemoryKV())
		_, err := s.Create(ctx, "editor", "e@b.co", "hash", AccountEditor)
		require.NoError(t, err)
		_, err = s.Create(ctx, "editor", "x@b.co", "hash", AccountEditor)
		assert.ErrorIs(t, err, ErrAccountExists)
	})
}

func TestPasswordAuthenticator_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.auth.Login(ctx, "10.0.0.1", " admin ", testPassword)
		require.NoError(t, err)
		assert.Equal(t, f.account.ID, res.Account.ID)
		assert.NotNil(t, res.Account.LastLoginAt)
		assert.True(t, strings.HasPrefix(res.Token, TokenPrefix))
		assert.Equal(t, []string{"10.0.0.1"}, f.limiter.calls)

		stored, err := f.creds.Get(ctx, f.account.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.LastLoginAt)

		_, err = f.sessions.Lookup(ctx, res.Token)
		assert.NoError(t, err)
	})

	t.Run("unknown user and wrong password look the same", func(t *testing.T) {
		f := newFixture(t)
		_, errUnknown := f.auth.Login(ctx, "ip", "nobody", testPassword)
		_, errWrong := f.auth.Login(ctx, "ip", "admin", "Wrong-Password-1")
		assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
		assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
		assert.Equal(t, errUnknown.Error(), errWrong.Error())
	})

	t.Run("rate limited before checking credentials", func(t *testing.T) {
		f := newFixture(t)
		f.limiter.limited = true
		f.limiter.remaining = 61 * time.Second

		_, err := f.auth.Login(ctx, "ip", "admin", testPassword)
		var rl *RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, 2, rl.Minutes())
		assert.Contains(t, err.Error(), "2 minutes")
	})
}

func TestRateLimitError_Minutes(t *testing.T) {
	assert.Equal(t, 0, (&RateLimitError{}).Minutes())
	assert.Equal(t, 1, (&RateLimitError{Remaining: time.Second}).Minutes())
	assert.Equal(t, 15, (&RateLimitError{Remaining: 15 * time.Minute}).Minutes())
}

func TestPasswordAuthenticator_ChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.ErrorIs(t, f.auth.ChangePassword(ctx, "", testPassword, "x"), ErrNotAuthenticated)
	assert.ErrorIs(t, f.auth.ChangePassword(ctx, "ghost", testPassword, "x"), ErrNotAuthenticated)
	assert.ErrorIs(t, f.auth.ChangePassword(ctx, f.account.ID, "nope", "x"), ErrInvalidCurrentPassword)

	err := f.auth.ChangePassword(ctx, f.account.ID, testPassword, "weak")
	var weak *WeakPasswordError
	require.True(t, errors.As(err, &weak))
	assert.NotEmpty(t, weak.Problems)

	// A session issued before the change stays valid.
	res, err := f.auth.Login(ctx, "ip", "admin", testPassword)
	require.NoError(t, err)

	require.NoError(t, f.auth.ChangePassword(ctx, f.account.ID, testPassword, "Brand-New-Pass-99"))

	_, err = f.auth.Login(ctx, "ip", "admin", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.auth.Login(ctx, "ip", "admin", "Brand-New-Pass-99")
	assert.NoError(t, err)

	_, err = f.sessions.Lookup(ctx, res.Token)
	assert.NoError(t, err)
}

func TestSessionResolver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	resolver := NewSessionResolver(f.sessions, f.creds, "", true)

	res, err := f.auth.Login(ctx, "ip", "admin", testPassword)
	require.NoError(t, err)

	t.Run("no credentials", func(t *testing.T) {
		id, err := resolver.Resolve(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NoError(t, err)
		assert.Nil(t, id)
	})

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: res.Token})
		id, err := resolver.Resolve(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, f.account.ID, id.Subject)
		assert.Equal(t, SourceLocal, id.Source)
		assert.Equal(t, "admin", id.Claims["role"])
	})

	t.Run("bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+res.Token)
		id, err := resolver.Resolve(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, "admin@mustardtree.com", id.Email)
	})

	t.Run("unknown token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: TokenPrefix + "bogusbogus"})
		id, err := resolver.Resolve(ctx, r)
		assert.Nil(t, id)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("login url", func(t *testing.T) {
		assert.Equal(t, "/admin/login?return_to=%2Fadmin%2Fposts", resolver.LoginURL("/admin/posts"))
	})

	t.Run("logout", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: res.Token})
		w := httptest.NewRecorder()

		redirect, err := resolver.Logout(w, r)
		require.NoError(t, err)
		assert.Equal(t, "/", redirect)

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, -1, cookies[0].MaxAge)
		assert.True(t, cookies[0].Secure)

		_, err = f.sessions.Lookup(ctx, res.Token)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}
