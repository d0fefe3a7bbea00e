package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mustardtree/portal/pkg/audit"
	"github.com/mustardtree/portal/pkg/documents"
	"github.com/mustardtree/portal/pkg/httputil"
	"github.com/mustardtree/portal/pkg/middleware"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/rbac"
)

const (
	// multipartMemory is how much of an upload is buffered before spilling
	// to temporary files
	multipartMemory = 32 << 20
	// multipartOverhead allows for form fields and part headers on top of
	// the file itself
	multipartOverhead = 1 << 20
)

// DocumentHandlers serves the customer document portal
type DocumentHandlers struct {
	gate        *middleware.Gate
	documents   *documents.Service
	accessLog   *audit.AccessLog
	listTimeout time.Duration
}

// NewDocumentHandlers creates the document handlers. accessLog may be nil,
// which disables the bulk export endpoint.
func NewDocumentHandlers(gate *middleware.Gate, service *documents.Service, accessLog *audit.AccessLog, listTimeout time.Duration) *DocumentHandlers {
	if listTimeout <= 0 {
		listTimeout = DefaultListTimeout
	}
	return &DocumentHandlers{
		gate:        gate,
		documents:   service,
		accessLog:   accessLog,
		listTimeout: listTimeout,
	}
}

// RegisterRoutes registers customer, folder and document routes
func (h *DocumentHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/customers", guard(h.gate, rbac.CustomerRead, h.listCustomers)).Methods("GET")
	router.Handle("/api/customers", guard(h.gate, rbac.CustomerManage, h.createCustomer)).Methods("POST")
	router.Handle("/api/customers/{id}", guard(h.gate, rbac.DocumentRead, h.getCustomer)).Methods("GET")
	router.Handle("/api/customers/{id}", guard(h.gate, rbac.CustomerManage, h.deactivateCustomer)).Methods("DELETE")

	router.Handle("/api/folders", guard(h.gate, rbac.FolderRead, h.listFolders)).Methods("GET")
	router.Handle("/api/folders", guard(h.gate, rbac.FolderCreate, h.createFolder)).Methods("POST")

	router.Handle("/api/documents", guard(h.gate, rbac.DocumentRead, h.listDocuments)).Methods("GET")
	router.Handle("/api/documents", guard(h.gate, rbac.DocumentUpload, h.upload)).Methods("POST")
	router.Handle("/api/documents/{id}", guard(h.gate, rbac.DocumentRead, h.view)).Methods("GET")
	router.Handle("/api/documents/{id}/versions", guard(h.gate, rbac.DocumentUpload, h.addVersion)).Methods("POST")
	router.Handle("/api/documents/{id}/versions/{version}", guard(h.gate, rbac.VersionDelete, h.deleteVersion)).Methods("DELETE")
	router.Handle("/api/documents/{id}/download", guard(h.gate, rbac.DocumentDownload, h.download)).Methods("GET")
	router.Handle("/api/documents/{id}/permissions", guard(h.gate, rbac.DocumentRead, h.updatePermissions)).Methods("PUT")
	router.Handle("/api/documents/{id}/access-log", guard(h.gate, rbac.AccessLogRead, h.documentAccessLog)).Methods("GET")

	if h.accessLog != nil {
		router.Handle("/api/access-log", guard(h.gate, rbac.AccessLogRead, h.exportAccessLog)).Methods("GET")
	}
}

// listCustomers handles GET /api/customers
func (h *DocumentHandlers) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.documents.ListCustomers(r.Context(), principal(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, customers)
}

// getCustomer handles GET /api/customers/{id}
func (h *DocumentHandlers) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	customer, err := h.documents.GetCustomer(r.Context(), principal(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, customer)
}

// createCustomer handles POST /api/customers
func (h *DocumentHandlers) createCustomer(w http.ResponseWriter, r *http.Request) {
	var in documents.CustomerInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	customer, err := h.documents.CreateCustomer(r.Context(), principal(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, customer)
}

// deactivateCustomer handles DELETE /api/customers/{id}
func (h *DocumentHandlers) deactivateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.documents.DeactivateCustomer(r.Context(), principal(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listFolders handles GET /api/folders?customer_id=
func (h *DocumentHandlers) listFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.documents.ListFolders(r.Context(), principal(r), r.URL.Query().Get("customer_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, folders)
}

// createFolder handles POST /api/folders
func (h *DocumentHandlers) createFolder(w http.ResponseWriter, r *http.Request) {
	var in documents.FolderInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	folder, err := h.documents.CreateFolder(r.Context(), principal(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, folder)
}

func parseFilters(r *http.Request) (documents.Filters, error) {
	q := r.URL.Query()
	filters := documents.Filters{
		CustomerID: q.Get("customer_id"),
		FolderID:   q.Get("folder_id"),
		Tags:       httputil.ParseQueryList(r, "tags"),
		FileTypes:  httputil.ParseQueryList(r, "file_types"),
	}

	confidential, err := httputil.ParseQueryBool(r, "confidential", false)
	if err != nil {
		return filters, err
	}
	filters.ConfidentialOnly = confidential

	if filters.Since, err = parseQueryTime(r, "since"); err != nil {
		return filters, err
	}
	if filters.Until, err = parseQueryTime(r, "until"); err != nil {
		return filters, err
	}
	return filters, nil
}

func parseQueryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC 3339 time", key)
	}
	return &t, nil
}

// listDocuments handles GET /api/documents. A listing that does not finish
// within the list timeout is answered with an empty list.
func (h *DocumentHandlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.listTimeout)
	defer cancel()

	docs, err := h.documents.ListDocuments(ctx, principal(r), filters)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		observability.FromContext(r.Context()).WithField("timeout", h.listTimeout.String()).Warn("document listing timed out, serving empty list")
		httputil.WriteSuccess(w, []documents.Document{})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, docs)
}

// readUpload parses a multipart upload with its file in the "file" field.
// The returned cleanup releases temporary files.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) (documents.File, func(), error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || r.ContentLength > limit+multipartOverhead {
			return documents.File{}, noop, documents.ErrFileTooLarge
		}
		return documents.File{}, noop, fmt.Errorf("%w: malformed multipart body: %v", documents.ErrInvalidInput, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		return documents.File{}, noop, fmt.Errorf("%w: a file field is required", documents.ErrInvalidInput)
	}
	cleanup := func() {
		_ = file.Close()
		_ = r.MultipartForm.RemoveAll()
	}
	return fileFromHeader(file, header), cleanup, nil
}

// splitList flattens repeated and comma separated form values
func splitList(values []string) []string {
	var out []string
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func fileFromHeader(f multipart.File, header *multipart.FileHeader) documents.File {
	return documents.File{
		Name:        header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Body:        f,
	}
}

// upload handles POST /api/documents
func (h *DocumentHandlers) upload(w http.ResponseWriter, r *http.Request) {
	file, cleanup, err := readUpload(w, r, h.documents.MaxUploadBytes())
	defer cleanup()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	confidential, _ := strconv.ParseBool(r.FormValue("is_confidential"))
	doc, err := h.documents.Upload(r.Context(), principal(r), documents.UploadRequest{
		File:           file,
		CustomerID:     r.FormValue("customer_id"),
		FolderID:       r.FormValue("folder_id"),
		Description:    r.FormValue("description"),
		Tags:           splitList(r.MultipartForm.Value["tags"]),
		IsConfidential: confidential,
		ChangeNote:     r.FormValue("change_note"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, doc)
}

// addVersion handles POST /api/documents/{id}/versions
func (h *DocumentHandlers) addVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	file, cleanup, err := readUpload(w, r, h.documents.MaxUploadBytes())
	defer cleanup()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	doc, err := h.documents.AddVersion(r.Context(), principal(r), id, file, r.FormValue("change_note"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, doc)
}

// view handles GET /api/documents/{id}
func (h *DocumentHandlers) view(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.documents.View(r.Context(), principal(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, doc)
}

// download handles GET /api/documents/{id}/download?version=n
func (h *DocumentHandlers) download(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	version, err := httputil.ParseQueryInt(r, "version", 0)
	if err != nil || version < 0 {
		httputil.WriteBadRequest(w, "version must be a positive integer")
		return
	}

	url, err := h.documents.Download(r.Context(), principal(r), documents.DownloadRequest{DocumentID: id, Version: version})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"download_url": url})
}

// deleteVersion handles DELETE /api/documents/{id}/versions/{version}
func (h *DocumentHandlers) deleteVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	version, ok := httputil.ParsePathIntOrError(w, r, "version")
	if !ok {
		return
	}

	deleted, err := h.documents.DeleteVersion(r.Context(), principal(r), id, version)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !deleted {
		writeServiceError(w, r, documents.ErrDocumentNotFound)
		return
	}
	httputil.WriteNoContent(w)
}

// updatePermissions handles PUT /api/documents/{id}/permissions
func (h *DocumentHandlers) updatePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var perms documents.Permissions
	if !httputil.ParseJSONOrError(w, r, &perms) {
		return
	}
	doc, err := h.documents.UpdatePermissions(r.Context(), principal(r), id, perms)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, doc)
}

// documentAccessLog handles GET /api/documents/{id}/access-log
func (h *DocumentHandlers) documentAccessLog(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.documents.AccessLog(r.Context(), principal(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}

// exportAccessLog handles GET /api/access-log?format=json|csv|ndjson
func (h *DocumentHandlers) exportAccessLog(w http.ResponseWriter, r *http.Request) {
	filter := audit.SearchFilter{
		DocumentID: r.URL.Query().Get("document_id"),
		UserID:     r.URL.Query().Get("user_id"),
	}
	for _, a := range httputil.ParseQueryList(r, "action") {
		action := audit.Action(a)
		if !action.Valid() {
			httputil.WriteBadRequest(w, fmt.Sprintf("unknown action %q", a))
			return
		}
		filter.Actions = append(filter.Actions, action)
	}

	var err error
	if filter.Since, err = parseQueryTime(r, "since"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Until, err = parseQueryTime(r, "until"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format := audit.ExportFormat(httputil.ParseQueryString(r, "format", string(audit.ExportFormatJSON)))
	switch format {
	case audit.ExportFormatJSON, audit.ExportFormatCSV, audit.ExportFormatNDJSON:
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unsupported format %q", format))
		return
	}

	data, err := h.accessLog.Export(r.Context(), filter, format)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format != audit.ExportFormatJSON {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "access-log."+string(format)))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
