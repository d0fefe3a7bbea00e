package auth

import (
	"context"
	"strings"
	"time"

	"github.com/mustardtree/portal/pkg/contextkeys"
)

// Role is the access level computed for a request
type Role string

const (
	RoleNone     Role = ""
	RoleCustomer Role = "customer" // Own documents only
	RoleStaff    Role = "staff"    // Content and document management
	RoleAdmin    Role = "admin"    // Everything, including version deletion
)

// Rank orders roles so that a higher rank includes every lower one
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleStaff:
		return 2
	case RoleCustomer:
		return 1
	default:
		return 0
	}
}

// ParseRole maps a role name to a known Role
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleStaff:
		return RoleStaff, true
	case RoleCustomer:
		return RoleCustomer, true
	}
	return RoleNone, false
}

// Source records how an identity was established
type Source string

const (
	SourceLocal       Source = "local"
	SourceZeroTrust   Source = "zerotrust"
	SourceDevelopment Source = "development"
)

// Identity is who a request claims to be, after verification
type Identity struct {
	Subject    string                 `json:"subject"`
	Email      string                 `json:"email,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Groups     []string               `json:"groups,omitempty"`
	Claims     map[string]interface{} `json:"claims,omitempty"`
	Source     Source                 `json:"source"`
	CustomerID string                 `json:"customer_id,omitempty"`
}

// Principal is an identity together with its resolved role
type Principal struct {
	Identity *Identity `json:"identity,omitempty"`
	Role     Role      `json:"role"`
}

// Authenticated reports whether an identity was resolved
func (p *Principal) Authenticated() bool {
	return p != nil && p.Identity != nil
}

// Subject returns the identity subject, or "" for anonymous principals
func (p *Principal) Subject() string {
	if !p.Authenticated() {
		return ""
	}
	return p.Identity.Subject
}

// Email returns the identity email, or ""
func (p *Principal) Email() string {
	if !p.Authenticated() {
		return ""
	}
	return p.Identity.Email
}

// CustomerID returns the customer the principal is bound to, or ""
func (p *Principal) CustomerID() string {
	if !p.Authenticated() {
		return ""
	}
	return p.Identity.CustomerID
}

// PrincipalFromContext returns the principal stored by the session gate
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p
}

// AccountRole is the role stored on a local admin account
type AccountRole string

const (
	AccountAdmin  AccountRole = "admin"
	AccountEditor AccountRole = "editor"
)

// Role maps the account role onto the request role
func (a AccountRole) Role() Role {
	switch a {
	case AccountAdmin:
		return RoleAdmin
	case AccountEditor:
		return RoleStaff
	}
	return RoleNone
}

// AdminAccount is a local account as persisted. The password hash never
// leaves the package through HTTP; use View.
type AdminAccount struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"password_hash"`
	Role         AccountRole `json:"role"`
	CreatedAt    time.Time   `json:"created_at"`
	LastLoginAt  *time.Time  `json:"last_login_at,omitempty"`
}

// Account is the public view of an AdminAccount
type Account struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	Role        AccountRole `json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
	LastLoginAt *time.Time  `json:"last_login_at,omitempty"`
}

// View strips the password hash
func (a AdminAccount) View() Account {
	return Account{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		Role:        a.Role,
		CreatedAt:   a.CreatedAt,
		LastLoginAt: a.LastLoginAt,
	}
}

// Session is a local login. Only the SHA-256 of the token is kept.
type Session struct {
	TokenHash   string    `json:"token_hash"`
	TokenPrefix string    `json:"token_prefix"`
	AccountID   string    `json:"account_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
