// Package httputil provides HTTP helpers shared by the portal handlers.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, post)
//	httputil.WriteCreated(w, document)
//	httputil.WriteNotFoundError(w, "document not found")
//	httputil.WriteDetailedError(w, http.StatusBadRequest, err, details)
//
// Every error body has the shape {"error": "...", "details": [...]}.
//
// # Request Parsing
//
//	var req LoginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.ClientIPMiddleware(trustProxy),
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil
