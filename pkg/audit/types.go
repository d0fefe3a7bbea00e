package audit

import "time"

// Action is what a principal did to a document
type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
	ActionUpload   Action = "upload"
	ActionDelete   Action = "delete"
)

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionDownload, ActionUpload, ActionDelete:
		return true
	}
	return false
}

// AccessEntry records one document access
type AccessEntry struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Action     Action    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// SearchFilter selects access entries. Zero fields match everything.
type SearchFilter struct {
	DocumentID string
	UserID     string
	Actions    []Action

	Since *time.Time
	Until *time.Time

	Limit int
}

func (f SearchFilter) matches(e AccessEntry) bool {
	if f.DocumentID != "" && e.DocumentID != f.DocumentID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// ExportFormat represents the format for exporting access logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// ContentType returns the MIME type of the export format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}
