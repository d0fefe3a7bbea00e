// Package sso authenticates requests that arrive through a zero-trust
// access proxy (Cloudflare Access).
//
// The proxy signs a JWT for every authenticated visitor and passes it in the
// CF_Authorization cookie or the Cf-Access-Jwt-Assertion header.
// AccessResolver verifies the signature against the team's published key
// set, checks the audience, issuer and expiry, and maps the claims onto an
// auth.Identity:
//
//	resolver, err := sso.NewAccessResolver(sso.AccessConfig{
//		Domain:   "mustardtree.cloudflareaccess.com",
//		Audience: cfg.Auth.AccessAudience,
//	}, logger, metrics)
//
// Unsigned or unverifiable tokens are never trusted.
package sso
