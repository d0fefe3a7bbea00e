package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mustardtree/portal/pkg/httputil"
	"github.com/mustardtree/portal/pkg/middleware"
	"github.com/mustardtree/portal/pkg/rbac"
	"github.com/mustardtree/portal/pkg/webhooks"
)

// WebhookHandlers manages webhook subscriptions. Admin only.
type WebhookHandlers struct {
	gate    *middleware.Gate
	manager *webhooks.Manager
}

// NewWebhookHandlers creates the webhook handlers
func NewWebhookHandlers(gate *middleware.Gate, manager *webhooks.Manager) *WebhookHandlers {
	return &WebhookHandlers{gate: gate, manager: manager}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/admin/webhooks", guard(h.gate, rbac.WebhookManage, h.listWebhooks)).Methods("GET")
	router.Handle("/api/admin/webhooks", guard(h.gate, rbac.WebhookManage, h.createWebhook)).Methods("POST")
	router.Handle("/api/admin/webhooks/{id}", guard(h.gate, rbac.WebhookManage, h.getWebhook)).Methods("GET")
	router.Handle("/api/admin/webhooks/{id}", guard(h.gate, rbac.WebhookManage, h.updateWebhook)).Methods("PUT")
	router.Handle("/api/admin/webhooks/{id}", guard(h.gate, rbac.WebhookManage, h.deleteWebhook)).Methods("DELETE")
	router.Handle("/api/admin/webhooks/{id}/deliveries", guard(h.gate, rbac.WebhookManage, h.deliveries)).Methods("GET")
}

// createWebhook handles POST /api/admin/webhooks
func (h *WebhookHandlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhooks.Webhook
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	in.CreatedBy = principal(r).Subject()

	hook, err := h.manager.Register(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, hook.Redacted())
}

// listWebhooks handles GET /api/admin/webhooks
func (h *WebhookHandlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.manager.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]webhooks.Webhook, 0, len(hooks))
	for _, hook := range hooks {
		out = append(out, hook.Redacted())
	}
	httputil.WriteSuccess(w, out)
}

// getWebhook handles GET /api/admin/webhooks/{id}
func (h *WebhookHandlers) getWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	hook, err := h.manager.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, hook.Redacted())
}

// updateWebhook handles PUT /api/admin/webhooks/{id}
func (h *WebhookHandlers) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var in webhooks.WebhookUpdate
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	hook, err := h.manager.Update(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, hook.Redacted())
}

// deleteWebhook handles DELETE /api/admin/webhooks/{id}
func (h *WebhookHandlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.manager.Unregister(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type deliveriesResponse struct {
	Stats      webhooks.DeliveryStats  `json:"stats"`
	Deliveries []*webhooks.DeliveryLog `json:"deliveries"`
}

// deliveries handles GET /api/admin/webhooks/{id}/deliveries?limit=n
func (h *WebhookHandlers) deliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil || limit < 0 {
		httputil.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if _, err := h.manager.Get(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, deliveriesResponse{
		Stats:      h.manager.Stats(id),
		Deliveries: h.manager.Deliveries(id, limit),
	})
}
