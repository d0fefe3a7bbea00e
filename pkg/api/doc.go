// Package api provides the HTTP surface of the portal.
//
// # Routes
//
// Public:
//
//	GET  /api/posts               published posts, newest first
//	GET  /api/posts/{slug}        post with rendered HTML
//	GET  /api/authors
//	GET  /api/auth/me
//	GET  /auth/login, /auth/logout
//
// Staff (blog administration):
//
//	GET|POST        /api/admin/posts
//	GET|PUT|DELETE  /api/admin/posts/{id}
//	POST            /api/admin/authors
//	PUT|DELETE      /api/admin/authors/{id}
//
// Document portal (customers see only what the permission model allows):
//
//	GET|POST  /api/documents
//	GET       /api/documents/{id}
//	POST      /api/documents/{id}/versions
//	DELETE    /api/documents/{id}/versions/{version}   admin
//	GET       /api/documents/{id}/download
//	PUT       /api/documents/{id}/permissions          staff
//	GET       /api/documents/{id}/access-log           staff
//	GET       /api/access-log                          staff, json|csv|ndjson
//	GET|POST  /api/customers, /api/folders
//
// POST /api/auth/login and /api/auth/password only exist when local
// password accounts are enabled.
//
// # Gating
//
// Every request passes through middleware.Gate. While the identity of a
// request is still pending, protected routes answer 503 with Retry-After
// instead of redirecting or rendering a half-authenticated response.
package api
