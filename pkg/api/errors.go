package api

import (
	"errors"
	"net/http"

	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/blog"
	"github.com/mustardtree/portal/pkg/documents"
	"github.com/mustardtree/portal/pkg/httputil"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/storage"
	"github.com/mustardtree/portal/pkg/webhooks"
)

// writeServiceError maps service errors to HTTP responses. Anything not
// recognised is logged and answered with a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		limited  *auth.RateLimitError
		weak     *auth.WeakPasswordError
		tooLarge *http.MaxBytesError
	)

	switch {
	case errors.As(err, &limited):
		httputil.WriteTooManyRequests(w, limited.Error(), limited.Remaining)
	case errors.As(err, &weak):
		httputil.WriteDetailedError(w, http.StatusBadRequest, auth.ErrWeakPassword, weak.Problems)

	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrNotAuthenticated):
		httputil.WriteError(w, http.StatusUnauthorized, err)
	case errors.Is(err, auth.ErrForbidden):
		httputil.WriteForbidden(w, err.Error())

	case errors.Is(err, blog.ErrPostNotFound),
		errors.Is(err, blog.ErrAuthorNotFound),
		errors.Is(err, documents.ErrDocumentNotFound),
		errors.Is(err, documents.ErrVersionNotFound),
		errors.Is(err, documents.ErrCustomerNotFound),
		errors.Is(err, documents.ErrFolderNotFound),
		errors.Is(err, webhooks.ErrWebhookNotFound):
		httputil.WriteNotFoundError(w, err.Error())

	case errors.Is(err, blog.ErrAuthorInUse),
		errors.Is(err, documents.ErrLastVersion),
		errors.Is(err, documents.ErrDocumentExists),
		errors.Is(err, storage.ErrConflict):
		httputil.WriteConflict(w, err.Error())

	case errors.Is(err, documents.ErrFileTooLarge), errors.As(err, &tooLarge):
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, documents.ErrFileTooLarge.Error())

	case errors.Is(err, auth.ErrInvalidCurrentPassword),
		errors.Is(err, blog.ErrInvalidPost),
		errors.Is(err, blog.ErrInvalidAuthor),
		errors.Is(err, documents.ErrInvalidInput),
		errors.Is(err, webhooks.ErrInvalidWebhook):
		httputil.WriteBadRequest(w, err.Error())

	default:
		observability.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
		httputil.WriteInternalError(w)
	}
}
