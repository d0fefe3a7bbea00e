package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer_RouteGating(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"public posts", "GET", "/api/posts", "", http.StatusOK},
		{"public authors", "GET", "/api/authors", "", http.StatusOK},
		{"admin posts anonymous", "GET", "/api/admin/posts", "", http.StatusUnauthorized},
		{"admin posts customer", "GET", "/api/admin/posts", "acme", http.StatusForbidden},
		{"admin posts staff", "GET", "/api/admin/posts", "staff", http.StatusOK},
		{"rejected token is anonymous", "GET", "/api/admin/posts", "bad", http.StatusUnauthorized},
		{"documents anonymous", "GET", "/api/documents", "", http.StatusUnauthorized},
		{"documents customer", "GET", "/api/documents", "acme", http.StatusOK},
		{"customers need staff", "GET", "/api/customers", "acme", http.StatusForbidden},
		{"customers staff", "GET", "/api/customers", "staff", http.StatusOK},
		{"version delete needs admin", "DELETE", "/api/documents/x/versions/1", "staff", http.StatusForbidden},
		{"password login disabled", "POST", "/api/auth/login", "", http.StatusNotFound},
		{"unknown route", "GET", "/nonexistent", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.doJSON(t, tt.method, tt.path, tt.token, "")
			assert.Equal(t, tt.want, rec.Code, "body: %s", rec.Body.String())
		})
	}
}

func TestServer_PendingIdentity(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, "GET", "/api/admin/posts", "slow", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = s.doJSON(t, "GET", "/api/posts", "slow", "")
	assert.Equal(t, http.StatusOK, rec.Code, "public routes do not wait for identity")

	rec = s.doJSON(t, "GET", "/api/auth/me", "slow", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Headers(t *testing.T) {
	s := newTestServer(t)
	rec := s.doJSON(t, "GET", "/api/posts", "", "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
