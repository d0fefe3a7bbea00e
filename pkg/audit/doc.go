// Package audit keeps the document access log: who viewed, downloaded,
// uploaded or deleted which document, and when.
//
// Entries are appended by the document service and stored as one capped
// list (10 000 entries by default, oldest dropped first):
//
//	log := audit.NewAccessLog(kv, cfg.Documents.AccessLogRetention)
//	log.Record(ctx, audit.AccessEntry{DocumentID: id, UserID: sub, Action: audit.ActionDownload})
//	entries, err := log.ForDocument(ctx, id)
//
// Export renders a filtered view as JSON, NDJSON or CSV.
package audit
