package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/observability"
)

// Header and cookie names used by the access proxy
const (
	DefaultAccessCookie = "CF_Authorization"
	AssertionHeader     = "Cf-Access-Jwt-Assertion"
)

// AccessConfig configures an AccessResolver
type AccessConfig struct {
	// Domain is the team or application domain, e.g. team.cloudflareaccess.com
	Domain string
	// Audience is the application AUD tag; tokens must list it in aud
	Audience string
	// Issuer is checked against iss when set
	Issuer string
	// CertsURL overrides https://<Domain>/cdn-cgi/access/certs
	CertsURL   string
	CookieName string
	KeyTTL     time.Duration
	HTTPClient *http.Client

	// DevIdentity is returned for requests without a token. Only set it
	// in development.
	DevIdentity *auth.Identity
}

// CertsEndpoint returns the JWKS URL for the configured domain
func (c AccessConfig) CertsEndpoint() string {
	if c.CertsURL != "" {
		return c.CertsURL
	}
	return "https://" + c.Domain + "/cdn-cgi/access/certs"
}

// AccessResolver authenticates requests carrying a zero-trust access token
type AccessResolver struct {
	cfg      AccessConfig
	keys     *CachedKeySet
	verifier *oidc.IDTokenVerifier
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAccessResolver creates a resolver. Tokens are verified against the
// key set published at cfg.CertsEndpoint().
func NewAccessResolver(cfg AccessConfig, logger *observability.Logger, metrics *observability.Metrics) (*AccessResolver, error) {
	if cfg.Domain == "" {
		return nil, errors.New("access domain is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("access audience is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultAccessCookie
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	keys := NewCachedKeySet(cfg.CertsEndpoint(), cfg.KeyTTL, cfg.HTTPClient, metrics)
	verifier := oidc.NewVerifier(cfg.Issuer, keys, &oidc.Config{
		ClientID:             cfg.Audience,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
		SkipIssuerCheck:      cfg.Issuer == "",
	})

	return &AccessResolver{
		cfg:      cfg,
		keys:     keys,
		verifier: verifier,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// token reads the access token from the cookie, the assertion header or an
// Authorization bearer, in that order
func (a *AccessResolver) token(r *http.Request) string {
	if c, err := r.Cookie(a.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if v := strings.TrimSpace(r.Header.Get(AssertionHeader)); v != "" {
		return v
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// accessClaims are the claims read from a verified token
type accessClaims struct {
	Subject       string                 `json:"sub"`
	Email         string                 `json:"email"`
	Name          string                 `json:"name"`
	Groups        []string               `json:"groups"`
	IdentityNonce string                 `json:"identity_nonce"`
	Custom        map[string]interface{} `json:"custom"`
}

// Resolve verifies the request's token. Key fetch failures and timeouts are
// returned as plain errors so the gate can answer "try again"; every other
// failure wraps auth.ErrTokenInvalid.
func (a *AccessResolver) Resolve(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	raw := a.token(r)
	if raw == "" {
		if a.cfg.DevIdentity != nil {
			id := *a.cfg.DevIdentity
			id.Source = auth.SourceDevelopment
			return &id, nil
		}
		return nil, nil
	}

	vctx, fetchErr := withFetchErrorSlot(ctx)
	token, err := a.verifier.Verify(vctx, raw)
	if err != nil {
		logger := observability.FromContext(ctx).WithError(err)
		if *fetchErr != nil || ctx.Err() != nil {
			a.observe("unavailable")
			logger.Warn("Access token could not be verified")
			if *fetchErr != nil {
				return nil, *fetchErr
			}
			return nil, ctx.Err()
		}
		a.observe("invalid")
		logger.Warn("Access token rejected")
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}

	var claims accessClaims
	if err := token.Claims(&claims); err != nil {
		a.observe("invalid")
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	all := map[string]interface{}{}
	if err := token.Claims(&all); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.Email
	}
	if subject == "" {
		a.observe("invalid")
		return nil, fmt.Errorf("%w: token has neither sub nor email", auth.ErrTokenInvalid)
	}

	// Custom attributes set by the identity provider may carry a role or a
	// customer binding.
	identityClaims := map[string]interface{}{}
	for k, v := range claims.Custom {
		identityClaims[k] = v
	}
	identityClaims["aud"] = all["aud"]
	identityClaims["iss"] = all["iss"]
	if claims.IdentityNonce != "" {
		identityClaims["identity_nonce"] = claims.IdentityNonce
	}

	customerID, _ := claims.Custom["customer_id"].(string)

	a.observe("valid")
	return &auth.Identity{
		Subject:    subject,
		Email:      claims.Email,
		Name:       claims.Name,
		Groups:     claims.Groups,
		Claims:     identityClaims,
		Source:     auth.SourceZeroTrust,
		CustomerID: customerID,
	}, nil
}

func (a *AccessResolver) observe(result string) {
	if a.metrics != nil {
		a.metrics.TokenVerificationsTotal.WithLabelValues(result).Inc()
	}
}

// LoginURL sends the browser through the access login flow
func (a *AccessResolver) LoginURL(returnTo string) string {
	u := "https://" + a.cfg.Domain + "/cdn-cgi/access/login"
	if returnTo == "" {
		return u
	}
	return u + "?redirect_url=" + url.QueryEscape(returnTo)
}

// Logout expires the access cookie and returns the proxy's logout URL
func (a *AccessResolver) Logout(w http.ResponseWriter, r *http.Request) (string, error) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return "https://" + a.cfg.Domain + "/cdn-cgi/access/logout", nil
}

// KeySet exposes the cached key set, mainly for health reporting
func (a *AccessResolver) KeySet() *CachedKeySet {
	return a.keys
}
