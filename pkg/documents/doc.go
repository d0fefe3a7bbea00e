// Package documents implements the customer document portal: customers,
// folders, and versioned documents whose bytes live in an objectstore.Store.
//
// Every operation takes the calling *auth.Principal. Staff and admins see
// everything; customer principals only reach documents whose permission lists
// name their subject, their email, or (when bound to the owning customer) the
// customer id. Development identities may also read demo customers.
//
// Version numbers are stable: they are never renumbered when a version is
// deleted, and a new version always takes the highest number plus one.
// Object keys follow
//
//	customers/{customer}/documents/{document}/v{n}/{file}
//
// Views, downloads, uploads and deletions are appended to the audit.AccessLog.
package documents
