package documents

import (
	"errors"
	"io"
	"strings"
	"time"
)

var (
	ErrFileTooLarge     = errors.New("file exceeds the upload size limit")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrFolderNotFound   = errors.New("folder not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrVersionNotFound  = errors.New("version not found")
	ErrLastVersion      = errors.New("cannot delete the only version of a document")
	ErrDocumentExists   = errors.New("document with this name already exists")
	ErrInvalidInput     = errors.New("invalid input")
)

// DefaultMaxUploadBytes is the upload ceiling (100 MiB)
const DefaultMaxUploadBytes int64 = 100 * 1024 * 1024

// AccessLevel controls whether a customer may upload
type AccessLevel string

const (
	AccessReadOnly  AccessLevel = "read-only"
	AccessReadWrite AccessLevel = "read-write"
)

// Customer owns documents and folders
type Customer struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Company     string      `json:"company,omitempty"`
	AccessLevel AccessLevel `json:"access_level"`
	IsActive    bool        `json:"is_active"`
	IsDemo      bool        `json:"is_demo"`
	CreatedAt   time.Time   `json:"created_at"`
	LastLoginAt *time.Time  `json:"last_login_at,omitempty"`
}

// CustomerInput holds the fields of a new customer
type CustomerInput struct {
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Company     string      `json:"company,omitempty"`
	AccessLevel AccessLevel `json:"access_level,omitempty"`
	IsDemo      bool        `json:"is_demo,omitempty"`
}

// Folder groups documents of one customer
type Folder struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CustomerID     string    `json:"customer_id"`
	ParentFolderID string    `json:"parent_folder_id,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FolderInput holds the fields of a new folder
type FolderInput struct {
	Name           string `json:"name"`
	CustomerID     string `json:"customer_id"`
	ParentFolderID string `json:"parent_folder_id,omitempty"`
}

// Version is one immutable upload of a document
type Version struct {
	ID         string    `json:"id"`
	Version    int       `json:"version"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	MimeType   string    `json:"mime_type"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
	ObjectKey  string    `json:"object_key"`
	Checksum   string    `json:"checksum"`
	ChangeNote string    `json:"change_note,omitempty"`
}

// Permissions lists the subjects, emails or customer ids granted each action
type Permissions struct {
	CanView     []string `json:"can_view"`
	CanDownload []string `json:"can_download"`
	CanUpload   []string `json:"can_upload"`
}

func (p Permissions) normalize() Permissions {
	return Permissions{
		CanView:     cleanList(p.CanView),
		CanDownload: cleanList(p.CanDownload),
		CanUpload:   cleanList(p.CanUpload),
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Document is the metadata of a versioned file. Versions is never empty and
// CurrentVersion is an index into it.
type Document struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Description       string      `json:"description,omitempty"`
	CustomerID        string      `json:"customer_id"`
	FolderID          string      `json:"folder_id,omitempty"`
	Versions          []Version   `json:"versions"`
	CurrentVersion    int         `json:"current_version"`
	Tags              []string    `json:"tags,omitempty"`
	IsConfidential    bool        `json:"is_confidential"`
	AccessPermissions Permissions `json:"access_permissions"`
	CreatedBy         string      `json:"created_by"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	LastAccessedAt    *time.Time  `json:"last_accessed_at,omitempty"`
}

// Current returns the current version
func (d *Document) Current() *Version {
	if d.CurrentVersion < 0 || d.CurrentVersion >= len(d.Versions) {
		return nil
	}
	return &d.Versions[d.CurrentVersion]
}

// versionIndex finds the position of version number n; 0 selects the
// current version
func (d *Document) versionIndex(n int) int {
	if n == 0 {
		if d.Current() == nil {
			return -1
		}
		return d.CurrentVersion
	}
	for i, v := range d.Versions {
		if v.Version == n {
			return i
		}
	}
	return -1
}

func (d *Document) nextVersion() int {
	next := 1
	for _, v := range d.Versions {
		if v.Version >= next {
			next = v.Version + 1
		}
	}
	return next
}

// File is an upload body with its declared size and type
type File struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// UploadRequest creates a document or, when the name already exists in the
// same customer and folder, a new version of it
type UploadRequest struct {
	File           File
	CustomerID     string
	FolderID       string
	Description    string
	Tags           []string
	IsConfidential bool
	ChangeNote     string
}

// DownloadRequest selects a version by number; 0 means current
type DownloadRequest struct {
	DocumentID string
	Version    int
}

// Filters narrows ListDocuments
type Filters struct {
	CustomerID       string
	FolderID         string
	Tags             []string
	ConfidentialOnly bool
	FileTypes        []string
	Since            *time.Time
	Until            *time.Time
}

func (f Filters) matches(d Document) bool {
	if f.CustomerID != "" && d.CustomerID != f.CustomerID {
		return false
	}
	if f.FolderID != "" && d.FolderID != f.FolderID {
		return false
	}
	if len(f.Tags) > 0 && !anyIn(d.Tags, f.Tags) {
		return false
	}
	if f.ConfidentialOnly && !d.IsConfidential {
		return false
	}
	if len(f.FileTypes) > 0 {
		current := d.Current()
		if current == nil {
			return false
		}
		ok := false
		for _, t := range f.FileTypes {
			if t != "" && strings.Contains(current.MimeType, t) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Since != nil && d.UpdatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && d.UpdatedAt.After(*f.Until) {
		return false
	}
	return true
}

func anyIn(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
