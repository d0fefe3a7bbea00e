package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mustardtree/portal/pkg/audit"
	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/contextkeys"
	"github.com/mustardtree/portal/pkg/objectstore"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/rbac"
	"github.com/mustardtree/portal/pkg/sanitize"
	"github.com/mustardtree/portal/pkg/storage"
	"github.com/mustardtree/portal/pkg/webhooks"
)

// Config holds document portal limits
type Config struct {
	MaxUploadBytes int64
	// DemoCustomers are treated as demo customers in addition to those
	// flagged is_demo
	DemoCustomers []string
}

// Service manages customers, folders, documents and their versions. Bytes
// live in the object store; the key-value namespace only keeps metadata.
type Service struct {
	documents *storage.Collection[Document]
	customers *storage.Collection[Customer]
	folders   *storage.Collection[Folder]
	objects   objectstore.Store
	accessLog *audit.AccessLog
	cfg       Config
	metrics   *observability.Metrics
	events    webhooks.Publisher
	now       func() time.Time
}

// NewService wires the document collections of kv to objects and log.
// metrics may be nil.
func NewService(kv storage.KV, objects objectstore.Store, log *audit.AccessLog, cfg Config, metrics *observability.Metrics, opts ...storage.CollectionOption) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Service{
		objects:   objects,
		accessLog: log,
		cfg:       cfg,
		metrics:   metrics,
		now:       time.Now,
	}
	s.documents = storage.NewCollection[Document](kv, storage.KeyDocuments, nil, opts...)
	s.customers = storage.NewCollection[Customer](kv, storage.KeyCustomers, func() []Customer {
		return defaultCustomers(s.now())
	}, opts...)
	s.folders = storage.NewCollection[Folder](kv, storage.KeyFolders, nil, opts...)
	return s
}

// SetPublisher routes document events to p
func (s *Service) SetPublisher(p webhooks.Publisher) {
	s.events = p
}

func (s *Service) publish(ctx context.Context, t webhooks.EventType, principal *auth.Principal, doc *Document, extra map[string]interface{}) {
	if s.events == nil {
		return
	}
	data := map[string]interface{}{
		"document_id": doc.ID,
		"name":        doc.Name,
		"customer_id": doc.CustomerID,
		"actor":       principal.Subject(),
	}
	for k, v := range extra {
		data[k] = v
	}
	s.events.Publish(ctx, t, data)
}

// MaxUploadBytes returns the upload ceiling
func (s *Service) MaxUploadBytes() int64 {
	return s.cfg.MaxUploadBytes
}

func (s *Service) observe(action string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrForbidden):
		status = "forbidden"
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrVersionNotFound), errors.Is(err, ErrCustomerNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	s.metrics.DocumentOperationsTotal.WithLabelValues(action, status).Inc()
}

func (s *Service) record(ctx context.Context, principal *auth.Principal, documentID string, action audit.Action) {
	err := s.accessLog.Record(ctx, audit.AccessEntry{
		DocumentID: documentID,
		UserID:     principal.Subject(),
		Action:     action,
		IPAddress:  contextkeys.GetClientIP(ctx),
		UserAgent:  contextkeys.GetUserAgent(ctx),
	})
	if err != nil {
		observability.GetLogger(ctx).WithError(err).WithField("document_id", documentID).Warn("failed to record document access")
	}
}

// ObjectKey is where version n of a document is stored
func ObjectKey(customerID, documentID string, version int, fileName string) string {
	return fmt.Sprintf("customers/%s/documents/%s/v%d/%s", customerID, documentID, version, sanitize.FileName(fileName))
}

// store streams f to key and returns its SHA-256. The stores reject bodies
// whose length differs from f.Size.
func (s *Service) store(ctx context.Context, key string, f File) (string, error) {
	hash := sha256.New()
	if err := s.objects.Put(ctx, key, io.TeeReader(f.Body, hash), f.Size, f.ContentType); err != nil {
		return "", fmt.Errorf("failed to store object: %w", err)
	}
	if s.metrics != nil {
		s.metrics.DocumentBytesUploaded.Add(float64(f.Size))
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func (s *Service) discard(ctx context.Context, key string) {
	if err := s.objects.Delete(ctx, key); err != nil && !errors.Is(err, objectstore.ErrObjectNotFound) {
		observability.GetLogger(ctx).WithError(err).WithField("object_key", key).Warn("failed to delete object")
	}
}

func (s *Service) checkFile(f File) error {
	if f.Size > s.cfg.MaxUploadBytes {
		return ErrFileTooLarge
	}
	if f.Size < 0 || f.Body == nil || strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: file name and body are required", ErrInvalidInput)
	}
	return nil
}

func (s *Service) newVersion(principal *auth.Principal, n int, f File, key, checksum, note string) Version {
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Version{
		ID:         uuid.New().String(),
		Version:    n,
		FileName:   f.Name,
		FileSize:   f.Size,
		MimeType:   contentType,
		UploadedBy: principal.Subject(),
		UploadedAt: s.now(),
		ObjectKey:  key,
		Checksum:   checksum,
		ChangeNote: sanitize.Text(note),
	}
}

// Upload stores a new document, or a new version when a document with the
// same case-insensitive name exists in the same customer and folder.
func (s *Service) Upload(ctx context.Context, principal *auth.Principal, req UploadRequest) (doc *Document, err error) {
	principal = orAnonymous(principal)
	defer func() { s.observe("upload", err) }()

	if err := s.checkFile(req.File); err != nil {
		return nil, err
	}
	customer, err := s.activeCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	if !canUploadFor(principal, customer) {
		return nil, auth.ErrForbidden
	}
	if req.FolderID != "" {
		if _, err := s.folder(ctx, customer.ID, req.FolderID); err != nil {
			return nil, err
		}
	}

	existing, err := s.findByName(ctx, customer.ID, req.FolderID, req.File.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.appendVersion(ctx, principal, existing.ID, req.File, req.ChangeNote)
	}

	documentID := uuid.New().String()
	key := ObjectKey(customer.ID, documentID, 1, req.File.Name)
	checksum, err := s.store(ctx, key, req.File)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		if t = sanitize.Text(t); t != "" {
			tags = append(tags, t)
		}
	}
	created := Document{
		ID:             documentID,
		Name:           sanitize.Text(req.File.Name),
		Description:    sanitize.Text(req.Description),
		CustomerID:     customer.ID,
		FolderID:       req.FolderID,
		Versions:       []Version{s.newVersion(principal, 1, req.File, key, checksum, req.ChangeNote)},
		CurrentVersion: 0,
		Tags:           tags,
		IsConfidential: req.IsConfidential,
		AccessPermissions: Permissions{
			CanView:     []string{customer.ID},
			CanDownload: []string{customer.ID},
			CanUpload:   []string{customer.ID},
		},
		CreatedBy: principal.Subject(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.documents.Update(ctx, func(items []Document) ([]Document, error) {
		for _, d := range items {
			if sameSlot(d, customer.ID, req.FolderID, req.File.Name) {
				return nil, ErrDocumentExists
			}
		}
		return append(items, created), nil
	})
	if err != nil {
		s.discard(ctx, key)
		return nil, err
	}

	s.record(ctx, principal, documentID, audit.ActionUpload)
	s.publish(ctx, webhooks.EventDocumentUploaded, principal, &created, map[string]interface{}{"version": 1})
	observability.GetLogger(ctx).WithFields(map[string]interface{}{
		"document_id": documentID,
		"customer_id": customer.ID,
		"size":        req.File.Size,
	}).Info("document uploaded")
	return &created, nil
}

func sameSlot(d Document, customerID, folderID, name string) bool {
	return d.CustomerID == customerID && d.FolderID == folderID && strings.EqualFold(d.Name, sanitize.Text(name))
}

func (s *Service) findByName(ctx context.Context, customerID, folderID, name string) (*Document, error) {
	items, err := s.documents.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range items {
		if sameSlot(d, customerID, folderID, name) {
			return &d, nil
		}
	}
	return nil, nil
}

func (s *Service) load(ctx context.Context, id string) (*Document, *Customer, error) {
	items, err := s.documents.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range items {
		if d.ID != id {
			continue
		}
		owner, err := s.customerByID(ctx, d.CustomerID)
		if err != nil {
			return nil, nil, err
		}
		return &d, owner, nil
	}
	return nil, nil, ErrDocumentNotFound
}

// customerByID returns the customer including inactive ones, or nil
func (s *Service) customerByID(ctx context.Context, id string) (*Customer, error) {
	items, err := s.customers.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range items {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, nil
}

// AddVersion appends a version to an existing document and makes it current
func (s *Service) AddVersion(ctx context.Context, principal *auth.Principal, documentID string, f File, changeNote string) (doc *Document, err error) {
	principal = orAnonymous(principal)
	defer func() { s.observe("add_version", err) }()

	if err := s.checkFile(f); err != nil {
		return nil, err
	}
	current, owner, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !s.allowed(principal, rbac.DocumentUpload, current, owner, uploadGrant) {
		return nil, auth.ErrForbidden
	}
	if !rbac.Subsumes(principal.Role, auth.RoleStaff) && (owner == nil || owner.AccessLevel != AccessReadWrite) {
		return nil, auth.ErrForbidden
	}
	return s.appendVersion(ctx, principal, documentID, f, changeNote)
}

func (s *Service) appendVersion(ctx context.Context, principal *auth.Principal, documentID string, f File, changeNote string) (*Document, error) {
	current, _, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}

	n := current.nextVersion()
	key := ObjectKey(current.CustomerID, documentID, n, f.Name)
	checksum, err := s.store(ctx, key, f)
	if err != nil {
		return nil, err
	}
	version := s.newVersion(principal, n, f, key, checksum, changeNote)

	var updated Document
	_, err = s.documents.Update(ctx, func(items []Document) ([]Document, error) {
		for i := range items {
			if items[i].ID != documentID {
				continue
			}
			d := items[i]
			// Another writer may have added this number meanwhile.
			for _, v := range d.Versions {
				if v.Version == n {
					return nil, fmt.Errorf("%w: version %d of %s was added concurrently", storage.ErrConflict, n, documentID)
				}
			}
			d.Versions = append(append([]Version(nil), d.Versions...), version)
			d.CurrentVersion = len(d.Versions) - 1
			d.UpdatedAt = s.now()
			items[i] = d
			updated = d
			return items, nil
		}
		return nil, ErrDocumentNotFound
	})
	if err != nil {
		s.discard(ctx, key)
		return nil, err
	}

	s.record(ctx, principal, documentID, audit.ActionUpload)
	s.publish(ctx, webhooks.EventVersionAdded, principal, &updated, map[string]interface{}{
		"version":     n,
		"change_note": version.ChangeNote,
	})
	return &updated, nil
}

// Download checks access, then returns a short-lived URL for the requested
// version and stamps last_accessed_at
func (s *Service) Download(ctx context.Context, principal *auth.Principal, req DownloadRequest) (url string, err error) {
	principal = orAnonymous(principal)
	defer func() { s.observe("download", err) }()

	doc, owner, err := s.load(ctx, req.DocumentID)
	if err != nil {
		return "", err
	}
	if !s.allowed(principal, rbac.DocumentDownload, doc, owner, downloadGrant) {
		return "", auth.ErrForbidden
	}
	idx := doc.versionIndex(req.Version)
	if idx < 0 {
		return "", ErrVersionNotFound
	}

	url, err = s.objects.DownloadURL(ctx, doc.Versions[idx].ObjectKey)
	if err != nil {
		return "", fmt.Errorf("failed to resolve download URL: %w", err)
	}

	s.record(ctx, principal, doc.ID, audit.ActionDownload)
	now := s.now()
	_, err = s.documents.Update(ctx, func(items []Document) ([]Document, error) {
		for i := range items {
			if items[i].ID == doc.ID {
				items[i].LastAccessedAt = &now
				return items, nil
			}
		}
		return nil, storage.ErrSkipWrite
	})
	if err != nil {
		observability.GetLogger(ctx).WithError(err).WithField("document_id", doc.ID).Warn("failed to stamp last access")
	}
	return url, nil
}

// View returns a document the principal may see and logs the view
func (s *Service) View(ctx context.Context, principal *auth.Principal, documentID string) (doc *Document, err error) {
	principal = orAnonymous(principal)
	defer func() { s.observe("view", err) }()

	doc, owner, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !s.allowed(principal, rbac.DocumentRead, doc, owner, viewGrant) {
		return nil, auth.ErrForbidden
	}
	s.record(ctx, principal, doc.ID, audit.ActionView)
	return doc, nil
}

// DeleteVersion removes one version of a document. Only admins may. It
// reports false when the document does not exist.
func (s *Service) DeleteVersion(ctx context.Context, principal *auth.Principal, documentID string, version int) (deleted bool, err error) {
	principal = orAnonymous(principal)
	defer func() { s.observe("delete_version", err) }()

	if !rbac.Can(principal.Role, rbac.VersionDelete) {
		return false, auth.ErrForbidden
	}

	var (
		removed Version
		updated Document
	)
	_, err = s.documents.Update(ctx, func(items []Document) ([]Document, error) {
		for i := range items {
			if items[i].ID != documentID {
				continue
			}
			d := items[i]
			idx := -1
			for j, v := range d.Versions {
				if v.Version == version {
					idx = j
					break
				}
			}
			if idx < 0 {
				return nil, ErrVersionNotFound
			}
			if len(d.Versions) == 1 {
				return nil, ErrLastVersion
			}
			removed = d.Versions[idx]
			versions := make([]Version, 0, len(d.Versions)-1)
			versions = append(versions, d.Versions[:idx]...)
			d.Versions = append(versions, d.Versions[idx+1:]...)
			if d.CurrentVersion >= idx {
				d.CurrentVersion = max(0, d.CurrentVersion-1)
			}
			d.UpdatedAt = s.now()
			items[i] = d
			updated = d
			return items, nil
		}
		return nil, ErrDocumentNotFound
	})
	if errors.Is(err, ErrDocumentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.discard(ctx, removed.ObjectKey)
	s.record(ctx, principal, documentID, audit.ActionDelete)
	s.publish(ctx, webhooks.EventVersionDeleted, principal, &updated, map[string]interface{}{"version": version})
	return true, nil
}

// UpdatePermissions replaces the permission lists. Allowed for the document
// creator and admins.
func (s *Service) UpdatePermissions(ctx context.Context, principal *auth.Principal, documentID string, perms Permissions) (*Document, error) {
	principal = orAnonymous(principal)
	doc, _, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	creator := principal.Authenticated() && doc.CreatedBy == principal.Subject()
	if !creator && !rbac.Can(principal.Role, rbac.PermissionsUpdate) {
		return nil, auth.ErrForbidden
	}

	perms = perms.normalize()
	var updated Document
	_, err = s.documents.Update(ctx, func(items []Document) ([]Document, error) {
		for i := range items {
			if items[i].ID == documentID {
				items[i].AccessPermissions = perms
				items[i].UpdatedAt = s.now()
				updated = items[i]
				return items, nil
			}
		}
		return nil, ErrDocumentNotFound
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, webhooks.EventPermissionsUpdated, principal, &updated, nil)
	return &updated, nil
}

// ListDocuments returns the documents matching filters that principal may
// view, most recently updated first. Customers only ever see their own.
func (s *Service) ListDocuments(ctx context.Context, principal *auth.Principal, filters Filters) ([]Document, error) {
	principal = orAnonymous(principal)
	if !rbac.Can(principal.Role, rbac.DocumentRead) {
		return nil, auth.ErrForbidden
	}
	if scope, limited := scopedCustomer(principal); limited && scope != "" {
		if filters.CustomerID != "" && filters.CustomerID != scope {
			return []Document{}, nil
		}
		filters.CustomerID = scope
	}

	items, err := s.documents.Load(ctx)
	if err != nil {
		return nil, err
	}
	customers, err := s.customers.Load(ctx)
	if err != nil {
		return nil, err
	}
	owners := make(map[string]*Customer, len(customers))
	for i := range customers {
		owners[customers[i].ID] = &customers[i]
	}

	out := make([]Document, 0, len(items))
	for i := range items {
		d := &items[i]
		if !filters.matches(*d) {
			continue
		}
		if !s.allowed(principal, rbac.DocumentRead, d, owners[d.CustomerID], viewGrant) {
			continue
		}
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// AccessLog returns the access entries of a document, or of all documents
// when documentID is empty, newest first
func (s *Service) AccessLog(ctx context.Context, principal *auth.Principal, documentID string) ([]audit.AccessEntry, error) {
	principal = orAnonymous(principal)
	if !rbac.Can(principal.Role, rbac.AccessLogRead) {
		return nil, auth.ErrForbidden
	}
	return s.accessLog.Search(ctx, audit.SearchFilter{DocumentID: documentID})
}
