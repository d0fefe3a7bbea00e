package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mustardtree/portal/pkg/audit"
	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/contextkeys"
	"github.com/mustardtree/portal/pkg/objectstore"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/storage"
	"github.com/mustardtree/portal/pkg/webhooks"
)

const acme = "customer-1"

func principal(subject, email string, role auth.Role, customerID string) *auth.Principal {
	return &auth.Principal{
		Identity: &auth.Identity{Subject: subject, Email: email, Source: auth.SourceZeroTrust, CustomerID: customerID},
		Role:     role,
	}
}

var (
	admin     = principal("admin-1", "ops@mustardtree.com", auth.RoleAdmin, "")
	staff     = principal("staff-1", "analyst@mustardtree.com", auth.RoleStaff, "")
	acmeUser  = principal("acme-user", "jo@acme.com", auth.RoleCustomer, acme)
	otherUser = principal("other-user", "sam@globex.com", auth.RoleCustomer, "customer-2")
)

// countingStore records how often download URLs are resolved
type countingStore struct {
	*objectstore.MemoryStore
	urls atomic.Int64
}

func (c *countingStore) DownloadURL(ctx context.Context, key string) (string, error) {
	c.urls.Add(1)
	return c.MemoryStore.DownloadURL(ctx, key)
}

type fixture struct {
	svc     *Service
	objects *objectstore.MemoryStore
	store   *countingStore
	log     *audit.AccessLog
	metrics *observability.Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	kv := storage.NewMemoryKV()
	objects := objectstore.NewMemoryStore("https://files.test")
	store := &countingStore{MemoryStore: objects}
	log := audit.NewAccessLog(kv, 100)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := NewService(kv, store, log, cfg, metrics)
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{svc: svc, objects: objects, store: store, log: log, metrics: metrics}
}

func file(name, body string) File {
	return File{Name: name, Size: int64(len(body)), ContentType: "application/pdf", Body: strings.NewReader(body)}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t,
		"customers/customer-1/documents/doc-9/v2/Board_Minutes__Q1_.pdf",
		ObjectKey("customer-1", "doc-9", 2, "Board Minutes (Q1).pdf"))
}

func TestUpload_CreatesDocument(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := contextkeys.WithClientIP(context.Background(), "203.0.113.7")

	doc, err := f.svc.Upload(ctx, staff, UploadRequest{
		File:        file("report.pdf", "quarterly numbers"),
		CustomerID:  acme,
		Description: "Q1 report",
		Tags:        []string{"finance", " "},
	})
	require.NoError(t, err)

	require.Len(t, doc.Versions, 1)
	assert.Equal(t, 0, doc.CurrentVersion)
	v := doc.Versions[0]
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, ObjectKey(acme, doc.ID, 1, "report.pdf"), v.ObjectKey)
	sum := sha256.Sum256([]byte("quarterly numbers"))
	assert.Equal(t, hex.EncodeToString(sum[:]), v.Checksum)
	assert.Equal(t, "staff-1", v.UploadedBy)
	assert.Equal(t, []string{"finance"}, doc.Tags)
	assert.Equal(t, Permissions{CanView: []string{acme}, CanDownload: []string{acme}, CanUpload: []string{acme}}, doc.AccessPermissions)

	obj, ok := f.objects.Object(v.ObjectKey)
	require.True(t, ok)
	assert.Equal(t, "quarterly numbers", string(obj.Data))

	entries, err := f.log.ForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionUpload, entries[0].Action)
	assert.Equal(t, "203.0.113.7", entries[0].IPAddress)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DocumentOperationsTotal.WithLabelValues("upload", "ok")))
}

func TestUpload_SameNameAppendsVersion(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.svc.Upload(ctx, staff, UploadRequest{File: file("Contract.pdf", "v1"), CustomerID: acme})
	require.NoError(t, err)

	second, err := f.svc.Upload(ctx, staff, UploadRequest{File: file("contract.PDF", "v2 body"), CustomerID: acme, ChangeNote: "signed"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.Len(t, second.Versions, 2)
	assert.Equal(t, 2, second.Versions[1].Version)
	assert.Equal(t, 1, second.CurrentVersion)
	assert.Equal(t, "signed", second.Versions[1].ChangeNote)

	list, err := f.svc.ListDocuments(ctx, staff, Filters{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t, Config{MaxUploadBytes: 8})
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, staff, UploadRequest{File: file("big.bin", "123456789"), CustomerID: acme})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = f.svc.Upload(ctx, staff, UploadRequest{File: file("a.txt", "x"), CustomerID: "nobody"})
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	_, err = f.svc.Upload(ctx, otherUser, UploadRequest{File: file("a.txt", "x"), CustomerID: acme})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.Upload(ctx, nil, UploadRequest{File: file("a.txt", "x"), CustomerID: acme})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.Upload(ctx, staff, UploadRequest{File: file("a.txt", "x"), CustomerID: acme, FolderID: "missing"})
	assert.ErrorIs(t, err, ErrFolderNotFound)

	short := File{Name: "short.txt", Size: 5, Body: strings.NewReader("abc")}
	_, err = f.svc.Upload(ctx, staff, UploadRequest{File: short, CustomerID: acme})
	assert.Error(t, err)

	// Customers with read-write access may upload to their own customer.
	doc, err := f.svc.Upload(ctx, acmeUser, UploadRequest{File: file("mine.txt", "ok"), CustomerID: acme})
	require.NoError(t, err)
	assert.Equal(t, "acme-user", doc.CreatedBy)
}

func TestUpload_ReadOnlyCustomer(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	globex, err := f.svc.CreateCustomer(ctx, staff, CustomerInput{Name: "Globex", Email: "it@globex.com"})
	require.NoError(t, err)
	assert.Equal(t, AccessReadOnly, globex.AccessLevel)

	user := principal("g-user", "g@globex.com", auth.RoleCustomer, globex.ID)
	_, err = f.svc.Upload(ctx, user, UploadRequest{File: file("a.txt", "x"), CustomerID: globex.ID})
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestDownload(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, staff, UploadRequest{File: file("plan.pdf", "one"), CustomerID: acme})
	require.NoError(t, err)
	_, err = f.svc.AddVersion(ctx, staff, doc.ID, file("plan.pdf", "two"), "")
	require.NoError(t, err)

	t.Run("bound customer gets current version", func(t *testing.T) {
		url, err := f.svc.Download(ctx, acmeUser, DownloadRequest{DocumentID: doc.ID})
		require.NoError(t, err)
		assert.Equal(t, "https://files.test/"+ObjectKey(acme, doc.ID, 2, "plan.pdf"), url)
	})

	t.Run("explicit version", func(t *testing.T) {
		url, err := f.svc.Download(ctx, acmeUser, DownloadRequest{DocumentID: doc.ID, Version: 1})
		require.NoError(t, err)
		assert.Contains(t, url, "/v1/")
	})

	t.Run("version out of range", func(t *testing.T) {
		_, err := f.svc.Download(ctx, acmeUser, DownloadRequest{DocumentID: doc.ID, Version: 7})
		assert.ErrorIs(t, err, ErrVersionNotFound)
	})

	t.Run("other customer is forbidden before version lookup", func(t *testing.T) {
		before := f.store.urls.Load()
		_, err := f.svc.Download(ctx, otherUser, DownloadRequest{DocumentID: doc.ID, Version: 7})
		assert.ErrorIs(t, err, auth.ErrForbidden)
		_, err = f.svc.Download(ctx, otherUser, DownloadRequest{DocumentID: doc.ID})
		assert.ErrorIs(t, err, auth.ErrForbidden)
		assert.Equal(t, before, f.store.urls.Load(), "denied downloads must not resolve a URL")
	})

	t.Run("missing document is not found", func(t *testing.T) {
		_, err := f.svc.Download(ctx, admin, DownloadRequest{DocumentID: "nope"})
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("anonymous is forbidden", func(t *testing.T) {
		before := f.store.urls.Load()
		_, err := f.svc.Download(ctx, nil, DownloadRequest{DocumentID: doc.ID})
		assert.ErrorIs(t, err, auth.ErrForbidden)
		assert.Equal(t, before, f.store.urls.Load())
	})

	assert.Equal(t, int64(2), f.store.urls.Load(), "only the two granted downloads resolve URLs")

	got, err := f.svc.View(ctx, staff, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastAccessedAt)

	entries, err := f.svc.AccessLog(ctx, staff, doc.ID)
	require.NoError(t, err)
	actions := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []audit.Action{audit.ActionView, audit.ActionDownload, audit.ActionDownload, audit.ActionUpload, audit.ActionUpload}, actions)
}

func TestDownload_DirectGrantAndDemo(t *testing.T) {
	f := newFixture(t, Config{DemoCustomers: []string{acme}})
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, staff, UploadRequest{File: file("memo.txt", "hello"), CustomerID: acme})
	require.NoError(t, err)

	auditor := principal("auditor", "auditor@kpmg.example", auth.RoleCustomer, "")
	_, err = f.svc.Download(ctx, auditor, DownloadRequest{DocumentID: doc.ID})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.UpdatePermissions(ctx, admin, doc.ID, Permissions{
		CanView:     []string{acme},
		CanDownload: []string{acme, "AUDITOR@kpmg.example", acme},
	})
	require.NoError(t, err)
	_, err = f.svc.Download(ctx, auditor, DownloadRequest{DocumentID: doc.ID})
	assert.NoError(t, err)

	demo := &auth.Principal{
		Identity: &auth.Identity{Subject: "demo", Source: auth.SourceDevelopment},
		Role:     auth.RoleCustomer,
	}
	_, err = f.svc.Download(ctx, demo, DownloadRequest{DocumentID: doc.ID})
	assert.NoError(t, err)

	spoofed := principal("demo-user", "demo@example.com", auth.RoleCustomer, "")
	_, err = f.svc.Download(ctx, spoofed, DownloadRequest{DocumentID: doc.ID})
	assert.ErrorIs(t, err, auth.ErrForbidden, "demo access requires a development identity")
}

func TestDeleteVersion(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, staff, UploadRequest{File: file("deck.pdf", "v1"), CustomerID: acme})
	require.NoError(t, err)

	_, err = f.svc.DeleteVersion(ctx, admin, doc.ID, 1)
	assert.ErrorIs(t, err, ErrLastVersion)

	doc, err = f.svc.AddVersion(ctx, staff, doc.ID, file("deck.pdf", "v2"), "")
	require.NoError(t, err)
	require.Equal(t, 1, doc.CurrentVersion)
	v2Key := doc.Versions[1].ObjectKey

	_, err = f.svc.DeleteVersion(ctx, staff, doc.ID, 2)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.DeleteVersion(ctx, admin, doc.ID, 9)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	deleted, err := f.svc.DeleteVersion(ctx, admin, "missing", 1)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = f.svc.DeleteVersion(ctx, admin, doc.ID, 2)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, ok := f.objects.Object(v2Key)
	assert.False(t, ok)

	got, err := f.svc.View(ctx, admin, doc.ID)
	require.NoError(t, err)
	require.Len(t, got.Versions, 1)
	assert.Equal(t, 0, got.CurrentVersion)
	assert.NotNil(t, got.Current())

	// Numbers are never reused after a deletion.
	got, err = f.svc.AddVersion(ctx, staff, doc.ID, file("deck.pdf", "v3"), "")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Versions[1].Version)
}

func TestUpdatePermissions(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, acmeUser, UploadRequest{File: file("a.txt", "a"), CustomerID: acme})
	require.NoError(t, err)

	perms := Permissions{CanView: []string{acme, "x@acme.com"}}
	_, err = f.svc.UpdatePermissions(ctx, staff, doc.ID, perms)
	assert.ErrorIs(t, err, auth.ErrForbidden, "staff is neither creator nor admin")

	updated, err := f.svc.UpdatePermissions(ctx, acmeUser, doc.ID, perms)
	require.NoError(t, err)
	assert.Equal(t, []string{acme, "x@acme.com"}, updated.AccessPermissions.CanView)
	assert.Empty(t, updated.AccessPermissions.CanDownload)

	_, err = f.svc.UpdatePermissions(ctx, admin, "missing", perms)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestListDocuments(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	globex, err := f.svc.CreateCustomer(ctx, staff, CustomerInput{Name: "Globex", Email: "it@globex.com", AccessLevel: AccessReadWrite})
	require.NoError(t, err)
	folder, err := f.svc.CreateFolder(ctx, staff, FolderInput{Name: "Board", CustomerID: acme})
	require.NoError(t, err)

	a1, err := f.svc.Upload(ctx, staff, UploadRequest{File: file("minutes.pdf", "m"), CustomerID: acme, FolderID: folder.ID, Tags: []string{"board"}, IsConfidential: true})
	require.NoError(t, err)
	img := File{Name: "logo.png", Size: 1, ContentType: "image/png", Body: strings.NewReader("p")}
	a2, err := f.svc.Upload(ctx, staff, UploadRequest{File: img, CustomerID: acme})
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, staff, UploadRequest{File: file("globex.pdf", "g"), CustomerID: globex.ID})
	require.NoError(t, err)

	all, err := f.svc.ListDocuments(ctx, staff, Filters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, !all[0].UpdatedAt.Before(all[1].UpdatedAt), "most recent first")

	own, err := f.svc.ListDocuments(ctx, acmeUser, Filters{CustomerID: globex.ID})
	require.NoError(t, err)
	assert.Empty(t, own, "customers never see other customers")

	own, err = f.svc.ListDocuments(ctx, acmeUser, Filters{})
	require.NoError(t, err)
	assert.Len(t, own, 2)

	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{"folder", Filters{FolderID: folder.ID}, []string{a1.ID}},
		{"tags", Filters{Tags: []string{"board", "other"}}, []string{a1.ID}},
		{"confidential", Filters{ConfidentialOnly: true}, []string{a1.ID}},
		{"file types", Filters{CustomerID: acme, FileTypes: []string{"image"}}, []string{a2.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := f.svc.ListDocuments(ctx, staff, tt.filters)
			require.NoError(t, err)
			ids := make([]string, 0, len(docs))
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	_, err = f.svc.ListDocuments(ctx, nil, Filters{})
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestCustomersAndFolders(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	customers, err := f.svc.ListCustomers(ctx, staff)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Acme Corporation", customers[0].Name)

	_, err = f.svc.ListCustomers(ctx, acmeUser)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	own, err := f.svc.GetCustomer(ctx, acmeUser, acme)
	require.NoError(t, err)
	assert.Equal(t, AccessReadWrite, own.AccessLevel)

	_, err = f.svc.CreateCustomer(ctx, staff, CustomerInput{Name: "Bad", Email: "nope"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.CreateCustomer(ctx, acmeUser, CustomerInput{Name: "X", Email: "x@x.com"})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	parent, err := f.svc.CreateFolder(ctx, staff, FolderInput{Name: "Finance", CustomerID: acme})
	require.NoError(t, err)
	_, err = f.svc.CreateFolder(ctx, staff, FolderInput{Name: "2024", CustomerID: acme, ParentFolderID: parent.ID})
	require.NoError(t, err)
	_, err = f.svc.CreateFolder(ctx, staff, FolderInput{Name: "Bad", CustomerID: acme, ParentFolderID: "missing"})
	assert.ErrorIs(t, err, ErrFolderNotFound)
	_, err = f.svc.CreateFolder(ctx, acmeUser, FolderInput{Name: "Mine", CustomerID: acme})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	folders, err := f.svc.ListFolders(ctx, acmeUser, "")
	require.NoError(t, err)
	assert.Len(t, folders, 2)
	_, err = f.svc.ListFolders(ctx, otherUser, acme)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	require.NoError(t, f.svc.DeactivateCustomer(ctx, staff, acme))
	assert.ErrorIs(t, f.svc.DeactivateCustomer(ctx, staff, acme), ErrCustomerNotFound)
	_, err = f.svc.Upload(ctx, staff, UploadRequest{File: file("a.txt", "a"), CustomerID: acme})
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestAccessLogRequiresStaff(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.AccessLog(context.Background(), acmeUser, "")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

type recorder struct{ types []webhooks.EventType }

func (r *recorder) Publish(_ context.Context, t webhooks.EventType, _ map[string]interface{}) {
	r.types = append(r.types, t)
}

func TestService_PublishesEvents(t *testing.T) {
	f := newFixture(t, Config{})
	rec := &recorder{}
	f.svc.SetPublisher(rec)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, staff, UploadRequest{File: file("a.pdf", "one"), CustomerID: acme})
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, staff, UploadRequest{File: file("A.pdf", "two"), CustomerID: acme})
	require.NoError(t, err)
	_, err = f.svc.UpdatePermissions(ctx, admin, doc.ID, Permissions{CanView: []string{acme}})
	require.NoError(t, err)
	_, err = f.svc.DeleteVersion(ctx, admin, doc.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.Download(ctx, staff, DownloadRequest{DocumentID: doc.ID})
	require.NoError(t, err)

	assert.Equal(t, []webhooks.EventType{
		webhooks.EventDocumentUploaded,
		webhooks.EventVersionAdded,
		webhooks.EventPermissionsUpdated,
		webhooks.EventVersionDeleted,
	}, rec.types)
}
