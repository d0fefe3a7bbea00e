package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileSystemStore keeps objects under a root directory and serves them
// through HMAC-signed, expiring URLs (see Handler).
type FileSystemStore struct {
	root    string
	baseURL string
	key     []byte
	expiry  time.Duration
	now     func() time.Time
}

// NewFileSystemStore creates root if needed
func NewFileSystemStore(root, baseURL string, signingKey []byte, expiry time.Duration) (*FileSystemStore, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create object root: %w", err)
	}
	return &FileSystemStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     signingKey,
		expiry:  expiry,
		now:     time.Now,
	}, nil
}

// objectPath maps key into root, rejecting traversal
func (s *FileSystemStore) objectPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	p, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("object size mismatch: got %d bytes, want %d", n, size)
	}
	return os.Rename(tmp.Name(), p)
}

func (s *FileSystemStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *FileSystemStore) DownloadURL(ctx context.Context, key string) (string, error) {
	p, err := s.objectPath(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return "", ErrObjectNotFound
	} else if err != nil {
		return "", fmt.Errorf("failed to stat object: %w", err)
	}

	expires := s.now().Add(s.expiry).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(key, expires))
	return s.baseURL + "/" + key + "?" + q.Encode(), nil
}

func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	p, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (s *FileSystemStore) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

// Handler serves objects for URLs produced by DownloadURL. Mount it with the
// base URL path stripped, e.g. http.StripPrefix("/files", store.Handler()).
func (s *FileSystemStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
		if err != nil || s.now().Unix() > expires {
			http.Error(w, "link expired", http.StatusForbidden)
			return
		}
		want := s.sign(key, expires)
		if !hmac.Equal([]byte(want), []byte(r.URL.Query().Get("sig"))) {
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}

		p, err := s.objectPath(key)
		if err != nil {
			http.Error(w, "invalid key", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
		http.ServeFile(w, r, p)
	})
}
