// Package contextkeys holds every context key used across the portal.
//
// Keys live here so that packages which must not import each other
// (observability, auth, middleware) can still share request-scoped values:
//
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	p, _ := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal.
	// Set by: middleware.Gate
	// Required by: every handler behind a role gate
	PrincipalKey Key = "principal"

	// RequestIDKey contains the request id (UUID string).
	// Set by: httputil.RequestIDMiddleware
	RequestIDKey Key = "request_id"

	// SubjectKey contains the authenticated subject (string) for log lines.
	// Set by: middleware.Gate
	SubjectKey Key = "subject"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"

	// ClientIPKey contains the resolved client address (string).
	// Set by: httputil.ClientIPMiddleware
	// Used by: login throttling, access log
	ClientIPKey Key = "client_ip"

	// UserAgentKey contains the request User-Agent (string).
	// Set by: httputil.ClientIPMiddleware
	UserAgentKey Key = "user_agent"

	// RequestStartTimeKey contains time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// WithPrincipal stores the resolved principal
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, UserAgentKey, ua)
}

func WithRequestStartTime(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, start)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetSubject retrieves the authenticated subject from context
func GetSubject(ctx context.Context) string {
	if subject, ok := ctx.Value(SubjectKey).(string); ok {
		return subject
	}
	return ""
}

// GetClientIP retrieves the client address from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}

// GetUserAgent retrieves the client user agent from context
func GetUserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(UserAgentKey).(string); ok {
		return ua
	}
	return ""
}

// GetRequestStartTime retrieves the request start time from context
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	start, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return start, ok
}
