package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mustardtree/portal/pkg/audit"
	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/blog"
	"github.com/mustardtree/portal/pkg/documents"
	"github.com/mustardtree/portal/pkg/httputil"
	"github.com/mustardtree/portal/pkg/middleware"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/rbac"
	"github.com/mustardtree/portal/pkg/webhooks"
)

// DefaultListTimeout bounds document listing before an empty list is served
const DefaultListTimeout = 5 * time.Second

// Config wires the services behind the API
type Config struct {
	Gate *middleware.Gate

	// Authenticator and Sessions are set in local auth mode only
	Authenticator *auth.PasswordAuthenticator
	Sessions      *auth.SessionResolver
	Credentials   *auth.CredentialStore

	Blog      *blog.Service
	Documents *documents.Service
	AccessLog *audit.AccessLog
	Webhooks  *webhooks.Manager

	// Files serves filesystem object store downloads under /files
	Files http.Handler

	Logger      *observability.Logger
	Metrics     *observability.Metrics
	ListTimeout time.Duration
	TrustProxy  bool
	CORSOrigins []string
}

// Server represents our API server
type Server struct {
	cfg    Config
	router *mux.Router
	logger *observability.Logger

	authHandlers     *AuthHandlers
	contentHandlers  *ContentHandlers
	documentHandlers *DocumentHandlers
	webhookHandlers  *WebhookHandlers
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}

	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: cfg.Logger,
	}

	s.authHandlers = NewAuthHandlers(cfg.Gate, cfg.Authenticator, cfg.Sessions, cfg.Credentials)
	if cfg.Blog != nil {
		s.contentHandlers = NewContentHandlers(cfg.Gate, cfg.Blog)
	}
	if cfg.Documents != nil {
		s.documentHandlers = NewDocumentHandlers(cfg.Gate, cfg.Documents, cfg.AccessLog, cfg.ListTimeout)
	}
	if cfg.Webhooks != nil {
		s.webhookHandlers = NewWebhookHandlers(cfg.Gate, cfg.Webhooks)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.cfg.Metrics))
	s.router.Use(s.cfg.Gate.Handler)

	s.RegisterRoutes(s.authHandlers)
	if s.contentHandlers != nil {
		s.RegisterRoutes(s.contentHandlers)
	}
	if s.documentHandlers != nil {
		s.RegisterRoutes(s.documentHandlers)
	}
	if s.webhookHandlers != nil {
		s.RegisterRoutes(s.webhookHandlers)
	}

	if s.cfg.Files != nil {
		s.router.PathPrefix("/files/").Handler(http.StripPrefix("/files", s.cfg.Files)).Methods("GET")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler wraps the router with the request middleware stack and tracing
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RecoveryMiddleware(s.logger),
		httputil.RequestIDMiddleware,
		httputil.ClientIPMiddleware(s.cfg.TrustProxy),
		httputil.LoggingMiddleware(s.logger),
		httputil.SecurityHeadersMiddleware,
		httputil.CORSMiddleware(s.cfg.CORSOrigins),
	)
	return otelhttp.NewHandler(chain(s.router), "portal")
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// guard gates h behind the least role granted perm
func guard(gate *middleware.Gate, perm rbac.Permission, h http.HandlerFunc) http.Handler {
	role, ok := rbac.MinimumRole(perm)
	if !ok {
		role = auth.RoleAdmin
	}
	return gate.Require(role)(h)
}

// principal returns the caller stored by the gate, never nil
func principal(r *http.Request) *auth.Principal {
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		return p
	}
	return &auth.Principal{}
}
