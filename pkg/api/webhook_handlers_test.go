package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mustardtree/portal/pkg/webhooks"
)

type hookSink struct {
	mu     sync.Mutex
	events []webhooks.Event
	sigs   []string
}

func (h *hookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var e webhooks.Event
	_ = json.Unmarshal(body, &e)
	h.mu.Lock()
	h.events = append(h.events, e)
	h.sigs = append(h.sigs, r.Header.Get("X-Portal-Signature"))
	h.mu.Unlock()
}

func TestWebhooks_AdminOnly(t *testing.T) {
	s := newTestServer(t)

	for _, token := range []string{"", "acme", "staff"} {
		rec := s.doJSON(t, "GET", "/api/admin/webhooks", token, "")
		assert.NotEqual(t, http.StatusOK, rec.Code, "token %q", token)
	}
	rec := s.doJSON(t, "GET", "/api/admin/webhooks", "admin", "")
	requireStatus(t, rec, http.StatusOK)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestWebhooks_LifecycleAndDelivery(t *testing.T) {
	s := newTestServer(t)
	sink := &hookSink{}
	receiver := httptest.NewServer(sink)
	t.Cleanup(receiver.Close)

	rec := s.doJSON(t, "POST", "/api/admin/webhooks", "admin",
		`{"url":"`+receiver.URL+`","events":["document.uploaded","post.published"],"secret":"s3cret"}`)
	requireStatus(t, rec, http.StatusCreated)
	var hook webhooks.Webhook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hook))
	assert.Equal(t, "********", hook.Secret)
	assert.Equal(t, "admin-1", hook.CreatedBy)

	rec = s.doJSON(t, "POST", "/api/admin/webhooks", "admin", `{"url":"not a url","events":["post.published"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.upload(t, "staff", map[string]string{"customer_id": "customer-1"}, "nda.pdf", "secret")
	rec = s.doJSON(t, "POST", "/api/admin/posts", "staff", `{"title":"Launch","content":"x","author_id":"1","status":"published"}`)
	requireStatus(t, rec, http.StatusCreated)
	s.hooks.Wait()

	sink.mu.Lock()
	require.Len(t, sink.events, 2)
	types := []webhooks.EventType{sink.events[0].Type, sink.events[1].Type}
	assert.ElementsMatch(t, []webhooks.EventType{webhooks.EventDocumentUploaded, webhooks.EventPostPublished}, types)
	for _, sig := range sink.sigs {
		assert.NotEmpty(t, sig)
	}
	sink.mu.Unlock()

	rec = s.doJSON(t, "GET", "/api/admin/webhooks/"+hook.ID+"/deliveries", "admin", "")
	requireStatus(t, rec, http.StatusOK)
	var body struct {
		Stats      webhooks.DeliveryStats `json:"stats"`
		Deliveries []webhooks.DeliveryLog `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Stats.Successful)
	assert.Len(t, body.Deliveries, 2)

	rec = s.doJSON(t, "PUT", "/api/admin/webhooks/"+hook.ID, "admin", `{"active":false}`)
	requireStatus(t, rec, http.StatusOK)
	s.upload(t, "staff", map[string]string{"customer_id": "customer-1"}, "other.pdf", "x")
	s.hooks.Wait()
	sink.mu.Lock()
	assert.Len(t, sink.events, 2, "inactive webhooks receive nothing")
	sink.mu.Unlock()

	rec = s.doJSON(t, "DELETE", "/api/admin/webhooks/"+hook.ID, "admin", "")
	requireStatus(t, rec, http.StatusNoContent)
	rec = s.doJSON(t, "GET", "/api/admin/webhooks/"+hook.ID, "admin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.doJSON(t, "GET", "/api/admin/webhooks/"+hook.ID+"/deliveries", "admin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
