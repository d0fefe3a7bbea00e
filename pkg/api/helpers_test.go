package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mustardtree/portal/pkg/audit"
	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/blog"
	"github.com/mustardtree/portal/pkg/documents"
	"github.com/mustardtree/portal/pkg/middleware"
	"github.com/mustardtree/portal/pkg/objectstore"
	"github.com/mustardtree/portal/pkg/rbac"
	"github.com/mustardtree/portal/pkg/storage"
	"github.com/mustardtree/portal/pkg/webhooks"
)

// tokenResolver maps bearer tokens to fixed identities. "slow" simulates an
// identity provider that never answers, "bad" a rejected token.
type tokenResolver map[string]*auth.Identity

func (t tokenResolver) Resolve(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	switch token {
	case "":
		return nil, nil
	case "slow":
		return nil, context.DeadlineExceeded
	case "bad":
		return nil, auth.ErrTokenInvalid
	}
	if id, ok := t[token]; ok {
		return id, nil
	}
	return nil, errors.Join(auth.ErrTokenInvalid, errors.New("unknown test token"))
}

func (t tokenResolver) LoginURL(returnTo string) string {
	return "https://idp.test/login?redirect_url=" + returnTo
}

func (t tokenResolver) Logout(w http.ResponseWriter, r *http.Request) (string, error) {
	return "https://idp.test/logout", nil
}

var testIdentities = tokenResolver{
	"admin": {Subject: "admin-1", Email: "ops@mustardtree.com", Source: auth.SourceZeroTrust, Claims: map[string]interface{}{"role": "admin"}},
	"staff": {Subject: "staff-1", Email: "analyst@mustardtree.com", Source: auth.SourceZeroTrust, Claims: map[string]interface{}{"role": "staff"}},
	"acme":  {Subject: "acme-user", Email: "jo@acme.com", Source: auth.SourceZeroTrust, CustomerID: "customer-1"},
	"other": {Subject: "other-user", Email: "sam@globex.com", Source: auth.SourceZeroTrust, CustomerID: "customer-2"},
}

type testServer struct {
	*Server
	objects *objectstore.MemoryStore
	hooks   *webhooks.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	kv := storage.NewMemoryKV()
	objects := objectstore.NewMemoryStore("https://files.test")
	accessLog := audit.NewAccessLog(kv, 0)
	gate := middleware.NewGate(testIdentities, rbac.NewPolicy(rbac.RuleSet{}, rbac.RuleSet{}, rbac.RuleSet{}), time.Second, nil)

	hooks := webhooks.NewManager(kv, nil, webhooks.Config{}, nil)
	blogService := blog.NewService(kv, blog.DeleteRestrict)
	blogService.SetPublisher(hooks)
	docService := documents.NewService(kv, objects, accessLog, documents.Config{MaxUploadBytes: 64}, nil)
	docService.SetPublisher(hooks)

	srv := NewServer(Config{
		Gate:      gate,
		Blog:      blogService,
		Documents: docService,
		AccessLog: accessLog,
		Webhooks:  hooks,
	})
	t.Cleanup(hooks.Wait)
	return &testServer{Server: srv, objects: objects, hooks: hooks}
}

// do sends a request through the full middleware stack as token
func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return s.do(t, method, path, token, r, "application/json")
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, "body: %s", rec.Body.String())
}
