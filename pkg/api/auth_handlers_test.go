package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/middleware"
	"github.com/mustardtree/portal/pkg/rbac"
	"github.com/mustardtree/portal/pkg/storage"
)

const testPassword = "Correct-Horse-42!"

func newLocalServer(t *testing.T, maxAttempts int) *Server {
	t.Helper()
	ctx := context.Background()
	kv := storage.NewMemoryKV()

	credentials := auth.NewCredentialStore(kv)
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = credentials.Create(ctx, "admin", "admin@mustardtree.com", string(hash), auth.AccountAdmin)
	require.NoError(t, err)

	sessions := auth.NewSessionManager(kv, time.Hour)
	resolver := auth.NewSessionResolver(sessions, credentials, auth.DefaultSessionCookie, false)
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{MaxAttempts: maxAttempts, Window: time.Minute}, nil)
	authenticator := auth.NewPasswordAuthenticator(credentials, sessions, limiter, auth.DefaultPasswordPolicy(), nil, nil)

	return NewServer(Config{
		Gate:          middleware.NewGate(resolver, rbac.NewPolicy(rbac.RuleSet{}, rbac.RuleSet{}, rbac.RuleSet{}), time.Second, nil),
		Authenticator: authenticator,
		Sessions:      resolver,
		Credentials:   credentials,
	})
}

func send(s *Server, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.DefaultSessionCookie {
			return c
		}
	}
	return nil
}

func login(t *testing.T, s *Server) *http.Cookie {
	t.Helper()
	rec := send(s, "POST", "/api/auth/login", `{"username":"admin","password":"`+testPassword+`"}`, nil)
	requireStatus(t, rec, http.StatusOK)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	return cookie
}

func TestAuth_LoginSession(t *testing.T) {
	s := newLocalServer(t, 5)

	rec := send(s, "POST", "/api/auth/login", `{"username":"admin","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, sessionCookie(rec))

	rec = send(s, "POST", "/api/auth/login", `{"username":"admin"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(s, "POST", "/api/auth/login", `{"username":"admin","password":"`+testPassword+`"}`, nil)
	requireStatus(t, rec, http.StatusOK)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.True(t, strings.HasPrefix(cookie.Value, auth.TokenPrefix))
	assert.NotContains(t, rec.Body.String(), "password_hash")
	assert.NotContains(t, rec.Body.String(), cookie.Value)

	rec = send(s, "GET", "/api/auth/me", "", cookie)
	requireStatus(t, rec, http.StatusOK)
	var me struct {
		Role string `json:"role"`
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "admin", me.Role)
	assert.Equal(t, "admin", me.User.Username)

	rec = send(s, "POST", "/api/auth/logout", "", cookie)
	requireStatus(t, rec, http.StatusOK)
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	rec = send(s, "GET", "/api/auth/me", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "revoked sessions no longer resolve")
}

func TestAuth_RateLimited(t *testing.T) {
	s := newLocalServer(t, 2)

	for i := 0; i < 2; i++ {
		rec := send(s, "POST", "/api/auth/login", `{"username":"admin","password":"wrong"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := send(s, "POST", "/api/auth/login", `{"username":"admin","password":"`+testPassword+`"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "1 minutes")
}

func TestAuth_ChangePassword(t *testing.T) {
	s := newLocalServer(t, 5)
	cookie := login(t, s)

	rec := send(s, "POST", "/api/auth/password", `{"current_password":"`+testPassword+`","new_password":"short"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Details []string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Details)

	rec = send(s, "POST", "/api/auth/password", `{"current_password":"nope","new_password":"An0ther-Long-Passw0rd!"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(s, "POST", "/api/auth/password", `{"current_password":"x","new_password":"y"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(s, "POST", "/api/auth/password", `{"current_password":"`+testPassword+`","new_password":"An0ther-Long-Passw0rd!"}`, cookie)
	requireStatus(t, rec, http.StatusOK)

	rec = send(s, "POST", "/api/auth/login", `{"username":"admin","password":"An0ther-Long-Passw0rd!"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_LoginRedirect(t *testing.T) {
	s := newLocalServer(t, 5)

	rec := send(s, "GET", "/auth/login?return_to=/admin/posts", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/login?return_to=%2Fadmin%2Fposts", rec.Header().Get("Location"))

	rec = send(s, "GET", "/auth/login?return_to=//evil.example", "", nil)
	assert.Equal(t, "/admin/login?return_to=%2F", rec.Header().Get("Location"))
}
