package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Resolver turns a request into a verified identity. A request without
// credentials resolves to (nil, nil). Verification failures wrap
// ErrTokenInvalid.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*Identity, error)

	// LoginURL is where unauthenticated browsers are sent
	LoginURL(returnTo string) string

	// Logout clears client-side state and returns where to send the browser
	Logout(w http.ResponseWriter, r *http.Request) (string, error)
}

// DefaultSessionCookie holds local session tokens
const DefaultSessionCookie = "portal_session"

// SessionResolver resolves local sessions from the session cookie or a
// Bearer token.
type SessionResolver struct {
	sessions    *SessionManager
	credentials *CredentialStore
	cookieName  string
	secure      bool
	loginPath   string
}

// NewSessionResolver creates a resolver for local sessions. secure marks the
// cookie Secure and should be set in production.
func NewSessionResolver(sessions *SessionManager, credentials *CredentialStore, cookieName string, secure bool) *SessionResolver {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &SessionResolver{
		sessions:    sessions,
		credentials: credentials,
		cookieName:  cookieName,
		secure:      secure,
		loginPath:   "/admin/login",
	}
}

func (s *SessionResolver) token(r *http.Request) string {
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if t := strings.TrimPrefix(h, "Bearer "); strings.HasPrefix(t, TokenPrefix) {
			return t
		}
	}
	return ""
}

// Resolve looks up the session and its account
func (s *SessionResolver) Resolve(ctx context.Context, r *http.Request) (*Identity, error) {
	token := s.token(r)
	if token == "" {
		return nil, nil
	}

	session, err := s.sessions.Lookup(ctx, token)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if err != nil {
		return nil, err
	}

	account, err := s.credentials.Get(ctx, session.AccountID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: session account no longer exists", ErrTokenInvalid)
	}
	if err != nil {
		return nil, err
	}

	return &Identity{
		Subject: account.ID,
		Email:   account.Email,
		Name:    account.Username,
		Source:  SourceLocal,
		Claims: map[string]interface{}{
			"role":     string(account.Role.Role()),
			"username": account.Username,
		},
	}, nil
}

// LoginURL points at the local login page
func (s *SessionResolver) LoginURL(returnTo string) string {
	if returnTo == "" {
		return s.loginPath
	}
	return s.loginPath + "?return_to=" + url.QueryEscape(returnTo)
}

// SetCookie writes the session cookie after a successful login
func (s *SessionResolver) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Logout revokes the session and expires the cookie
func (s *SessionResolver) Logout(w http.ResponseWriter, r *http.Request) (string, error) {
	token := s.token(r)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	if token == "" {
		return "/", nil
	}
	if err := s.sessions.Revoke(r.Context(), token); err != nil {
		return "/", err
	}
	return "/", nil
}
