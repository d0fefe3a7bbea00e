package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/contextkeys"
	"github.com/mustardtree/portal/pkg/httputil"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/rbac"
)

// GateState is how far identity resolution got for a request
type GateState int

const (
	// GateLoading means resolution has not completed: the identity
	// provider timed out or failed for reasons other than a bad token.
	GateLoading GateState = iota
	GateUnauthenticated
	GateAuthenticated
)

func (s GateState) String() string {
	switch s {
	case GateUnauthenticated:
		return "unauthenticated"
	case GateAuthenticated:
		return "authenticated"
	default:
		return "loading"
	}
}

// Decision is the outcome of gating a route
type Decision int

const (
	DecisionPending Decision = iota
	DecisionRedirect
	DecisionForbidden
	DecisionAllow
)

func (d Decision) String() string {
	switch d {
	case DecisionRedirect:
		return "redirect"
	case DecisionForbidden:
		return "forbidden"
	case DecisionAllow:
		return "allow"
	default:
		return "pending"
	}
}

// Evaluate decides whether a request in state with role may reach a route
// requiring required. Public routes (RoleNone) are always allowed; otherwise
// the protected content is never rendered until resolution completes.
func Evaluate(state GateState, role, required auth.Role) Decision {
	if required == auth.RoleNone {
		return DecisionAllow
	}
	switch state {
	case GateLoading:
		return DecisionPending
	case GateUnauthenticated:
		return DecisionRedirect
	}
	if rbac.Subsumes(role, required) {
		return DecisionAllow
	}
	return DecisionForbidden
}

// RoleResolver computes the role for a verified identity
type RoleResolver interface {
	ResolveRole(id *auth.Identity) auth.Role
}

// RoleResolverFunc adapts a function to RoleResolver
type RoleResolverFunc func(id *auth.Identity) auth.Role

func (f RoleResolverFunc) ResolveRole(id *auth.Identity) auth.Role {
	return f(id)
}

type gateStateKey struct{}

// Gate resolves the caller on every request and guards routes by role
type Gate struct {
	resolver   auth.Resolver
	roles      RoleResolver
	timeout    time.Duration
	retryAfter time.Duration
	metrics    *observability.Metrics
}

// NewGate creates a gate. timeout bounds identity resolution; a request
// whose resolution exceeds it is answered as pending.
func NewGate(resolver auth.Resolver, roles RoleResolver, timeout time.Duration, metrics *observability.Metrics) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{
		resolver:   resolver,
		roles:      roles,
		timeout:    timeout,
		retryAfter: 2 * time.Second,
		metrics:    metrics,
	}
}

// Resolver returns the identity resolver behind the gate
func (g *Gate) Resolver() auth.Resolver {
	return g.resolver
}

func (g *Gate) resolve(r *http.Request) (GateState, *auth.Principal) {
	ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
	defer cancel()

	id, err := g.resolver.Resolve(ctx, r)
	switch {
	case errors.Is(err, auth.ErrTokenInvalid):
		observability.FromContext(r.Context()).WithError(err).Debug("Rejected credentials")
		return GateUnauthenticated, &auth.Principal{}
	case err != nil:
		observability.FromContext(r.Context()).WithError(err).Warn("Identity resolution did not complete")
		return GateLoading, &auth.Principal{}
	case id == nil:
		return GateUnauthenticated, &auth.Principal{}
	}

	return GateAuthenticated, &auth.Principal{Identity: id, Role: g.roles.ResolveRole(id)}
}

// Handler resolves the caller and stores the principal in the request
// context. It never rejects a request; use Require on protected routes.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, principal := g.resolve(r)

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		ctx = context.WithValue(ctx, gateStateKey{}, state)
		if principal.Authenticated() {
			ctx = contextkeys.WithSubject(ctx, principal.Subject())
			ctx = observability.WithLogger(ctx, observability.GetLogger(ctx).WithField("role", string(principal.Role)))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StateFromContext returns the gate state recorded by Handler. Requests
// that never passed through a gate are unauthenticated.
func StateFromContext(ctx context.Context) GateState {
	if s, ok := ctx.Value(gateStateKey{}).(GateState); ok {
		return s
	}
	return GateUnauthenticated
}

// Require guards a route with the minimum role required
func (g *Gate) Require(required auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFromContext(r.Context())
			var role auth.Role
			if principal != nil {
				role = principal.Role
			}

			decision := Evaluate(StateFromContext(r.Context()), role, required)
			if g.metrics != nil {
				g.metrics.GateDecisionsTotal.WithLabelValues(string(required), decision.String()).Inc()
			}

			switch decision {
			case DecisionAllow:
				next.ServeHTTP(w, r)
			case DecisionPending:
				httputil.WriteServiceUnavailable(w, "authentication is still being verified, please retry", g.retryAfter)
			case DecisionRedirect:
				if httputil.WantsHTML(r) {
					http.Redirect(w, r, g.resolver.LoginURL(r.URL.RequestURI()), http.StatusFound)
					return
				}
				httputil.WriteUnauthorized(w, "authentication required")
			case DecisionForbidden:
				observability.FromContext(r.Context()).WithField("required", string(required)).Info("Access denied")
				httputil.WriteForbidden(w, "insufficient permissions")
			}
		})
	}
}
