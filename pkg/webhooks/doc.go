// Package webhooks delivers portal events to external HTTP endpoints.
//
// # Events
//
//	post.published                 a post became public
//	document.uploaded              a new document was created
//	document.version_added         a document gained a version
//	document.version_deleted       an admin removed a version
//	document.permissions_updated   access lists of a document changed
//
// Subscriptions are stored in the key-value namespace under "webhooks" and
// managed by admins through /api/admin/webhooks. The blog and document
// services publish through the Publisher interface; Manager is the
// implementation.
//
// # Delivery
//
// Each delivery is a POST with the JSON event (or a Slack / Teams message
// when the webhook's format asks for it) and these headers:
//
//	X-Portal-Event        event type
//	X-Portal-Event-ID     event id, shared by every webhook receiving it
//	X-Portal-Delivery     delivery id
//	X-Portal-Signature    sha256=<hex HMAC of the body> when a secret is set
//
// Receivers verify with:
//
//	if !webhooks.VerifySignature(body, r.Header.Get("X-Portal-Signature"), secret) {
//		http.Error(w, "bad signature", http.StatusUnauthorized)
//	}
//
// # Retries
//
// Failed deliveries are retried with exponential backoff (1s, 2s, 4s, 8s)
// up to five attempts. Manager.RetryPending is run by the maintenance
// scheduler. Delivery logs are kept in memory only.
package webhooks
