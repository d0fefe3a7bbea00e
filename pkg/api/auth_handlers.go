package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/contextkeys"
	"github.com/mustardtree/portal/pkg/httputil"
	"github.com/mustardtree/portal/pkg/middleware"
	"github.com/mustardtree/portal/pkg/observability"
)

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	gate          *middleware.Gate
	authenticator *auth.PasswordAuthenticator
	sessions      *auth.SessionResolver
	credentials   *auth.CredentialStore
}

// NewAuthHandlers creates the auth handlers. authenticator, sessions and
// credentials are nil in Zero-Trust mode, which disables password login.
func NewAuthHandlers(gate *middleware.Gate, authenticator *auth.PasswordAuthenticator, sessions *auth.SessionResolver, credentials *auth.CredentialStore) *AuthHandlers {
	return &AuthHandlers{
		gate:          gate,
		authenticator: authenticator,
		sessions:      sessions,
		credentials:   credentials,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/auth/me", h.me).Methods("GET")
	router.HandleFunc("/api/auth/logout", h.logout).Methods("POST")
	router.HandleFunc("/auth/login", h.loginRedirect).Methods("GET")
	router.HandleFunc("/auth/logout", h.logoutRedirect).Methods("GET")

	if h.authenticator != nil {
		router.HandleFunc("/api/auth/login", h.login).Methods("POST")
		router.HandleFunc("/api/auth/password", h.changePassword).Methods("POST")
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login handles POST /api/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}

	result, err := h.authenticator.Login(r.Context(), contextkeys.GetClientIP(r.Context()), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.sessions.SetCookie(w, result.Token, result.ExpiresAt)
	httputil.WriteSuccess(w, result)
}

// logout handles POST /api/auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.gate.Resolver().Logout(w, r)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("logout did not complete")
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"success":     true,
		"redirect_to": redirect,
	})
}

// logoutRedirect handles GET /auth/logout for browsers
func (h *AuthHandlers) logoutRedirect(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.gate.Resolver().Logout(w, r)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("logout did not complete")
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// loginRedirect handles GET /auth/login
func (h *AuthHandlers) loginRedirect(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("return_to")
	// Only same-site paths are accepted as return targets.
	if len(returnTo) < 1 || returnTo[0] != '/' || (len(returnTo) > 1 && returnTo[1] == '/') {
		returnTo = "/"
	}
	http.Redirect(w, r, h.gate.Resolver().LoginURL(returnTo), http.StatusFound)
}

type meResponse struct {
	Authenticated bool           `json:"authenticated"`
	Role          auth.Role      `json:"role,omitempty"`
	Identity      *auth.Identity `json:"identity,omitempty"`
	Account       *auth.Account  `json:"user,omitempty"`
}

// me handles GET /api/auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if middleware.StateFromContext(r.Context()) == middleware.GateLoading {
		httputil.WriteServiceUnavailable(w, "authentication is still being verified, please retry", 2*time.Second)
		return
	}
	if !p.Authenticated() {
		httputil.WriteUnauthorized(w, "not authenticated")
		return
	}

	resp := meResponse{Authenticated: true, Role: p.Role, Identity: p.Identity}
	if p.Identity.Source == auth.SourceLocal && h.credentials != nil {
		account, err := h.credentials.Get(r.Context(), p.Subject())
		if err != nil && !errors.Is(err, auth.ErrAccountNotFound) {
			writeServiceError(w, r, err)
			return
		}
		if account != nil {
			view := account.View()
			resp.Account = &view
		}
	}
	httputil.WriteSuccess(w, resp)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// changePassword handles POST /api/auth/password
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.Authenticated() || p.Identity.Source != auth.SourceLocal {
		writeServiceError(w, r, auth.ErrNotAuthenticated)
		return
	}

	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httputil.WriteBadRequest(w, "current_password and new_password are required")
		return
	}

	if err := h.authenticator.ChangePassword(r.Context(), p.Subject(), req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"success": true})
}
