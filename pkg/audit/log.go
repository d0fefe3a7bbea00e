package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mustardtree/portal/pkg/storage"
)

// DefaultRetention is the number of entries kept
const DefaultRetention = 10000

// AccessLog is the append-only document access log. Only the newest
// retention entries are kept; older ones are dropped on write.
type AccessLog struct {
	entries   *storage.Collection[AccessEntry]
	retention int
	now       func() time.Time
}

// NewAccessLog stores entries under storage.KeyDocumentAccess
func NewAccessLog(kv storage.KV, retention int, opts ...storage.CollectionOption) *AccessLog {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &AccessLog{
		entries:   storage.NewCollection[AccessEntry](kv, storage.KeyDocumentAccess, nil, opts...),
		retention: retention,
		now:       time.Now,
	}
}

// Retention returns the maximum number of kept entries
func (l *AccessLog) Retention() int {
	return l.retention
}

// Record appends entry, stamping the time when unset
func (l *AccessLog) Record(ctx context.Context, entry AccessEntry) error {
	if !entry.Action.Valid() {
		return fmt.Errorf("invalid access action %q", entry.Action)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}

	_, err := l.entries.Update(ctx, func(items []AccessEntry) ([]AccessEntry, error) {
		return l.trim(append(items, entry)), nil
	})
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	return nil
}

func (l *AccessLog) trim(items []AccessEntry) []AccessEntry {
	if over := len(items) - l.retention; over > 0 {
		return items[over:]
	}
	return items
}

// ForDocument returns the entries of one document, newest first
func (l *AccessLog) ForDocument(ctx context.Context, documentID string) ([]AccessEntry, error) {
	return l.Search(ctx, SearchFilter{DocumentID: documentID})
}

// Search returns matching entries, newest first
func (l *AccessLog) Search(ctx context.Context, filter SearchFilter) ([]AccessEntry, error) {
	items, err := l.entries.Load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]AccessEntry, 0)
	for _, e := range items {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Prune enforces retention on the stored log, for example after the limit
// was lowered. It returns the number of entries dropped.
func (l *AccessLog) Prune(ctx context.Context) (int, error) {
	dropped := 0
	_, err := l.entries.Update(ctx, func(items []AccessEntry) ([]AccessEntry, error) {
		if len(items) <= l.retention {
			dropped = 0
			return nil, storage.ErrSkipWrite
		}
		dropped = len(items) - l.retention
		return l.trim(items), nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune access log: %w", err)
	}
	return dropped, nil
}

// Export renders matching entries in format
func (l *AccessLog) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	entries, err := l.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	default:
		return exportJSON(entries)
	}
}
