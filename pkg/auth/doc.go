// Package auth implements local password authentication and the identity
// types shared by every access-control component.
//
// # Identities and roles
//
// A Resolver turns a request into an *Identity. Two resolvers exist: the
// SessionResolver in this package for local bcrypt accounts, and the
// Zero-Trust resolver in pkg/sso. The role policy in pkg/rbac maps an
// identity to a Role, and the session gate stores the resulting *Principal
// on the request context:
//
//	p := auth.PrincipalFromContext(r.Context())
//	if !p.Authenticated() { ... }
//
// # Local accounts
//
// Admin accounts live in the admin_accounts collection with bcrypt (cost 12)
// hashes. Sessions are opaque tokens:
//
//	mtp_<base64url(32 random bytes)>
//
// Only SHA-256(token) is persisted. PasswordAuthenticator.Login consults a
// Limiter before touching credentials and returns ErrInvalidCredentials for
// both unknown usernames and wrong passwords.
package auth
