package rbac

import (
	"slices"
	"strings"

	"github.com/mustardtree/portal/pkg/auth"
)

// Built-in group names that grant a role without configuration
const (
	GroupAdmin    = "admin"
	GroupStaff    = "staff"
	GroupCustomer = "customer"
)

// Policy maps identities to roles. Build it with NewPolicy so that rule
// sets are normalized.
type Policy struct {
	Admin    RuleSet `yaml:"admin" json:"admin"`
	Staff    RuleSet `yaml:"staff" json:"staff"`
	Customer RuleSet `yaml:"customer" json:"customer"`
}

// NewPolicy lowercases and trims every rule
func NewPolicy(admin, staff, customer RuleSet) Policy {
	return Policy{
		Admin:    admin.normalize(),
		Staff:    staff.normalize(),
		Customer: customer.normalize(),
	}
}

// Merge appends other's rules to p
func (p Policy) Merge(other Policy) Policy {
	return NewPolicy(p.Admin.merge(other.Admin), p.Staff.merge(other.Staff), p.Customer.merge(other.Customer))
}

// ResolveRole computes the role of id. An explicit "role" claim naming a
// known role wins; otherwise the admin, staff and customer rules are tried
// in that order. Identities bound to a customer are at least customers.
func (p Policy) ResolveRole(id *auth.Identity) auth.Role {
	if id == nil {
		return auth.RoleNone
	}

	if claim, ok := id.Claims["role"].(string); ok {
		if role, known := auth.ParseRole(claim); known {
			return role
		}
	}

	email := strings.ToLower(strings.TrimSpace(id.Email))
	groups := lowerAll(id.Groups)

	switch {
	case matches(p.Admin, email, groups) || slices.Contains(groups, GroupAdmin):
		return auth.RoleAdmin
	case matches(p.Staff, email, groups) || slices.Contains(groups, GroupStaff):
		return auth.RoleStaff
	case matches(p.Customer, email, groups) || slices.Contains(groups, GroupCustomer) || id.CustomerID != "":
		return auth.RoleCustomer
	}
	return auth.RoleNone
}

func matches(r RuleSet, email string, groups []string) bool {
	if email != "" {
		if slices.Contains(r.Emails, email) {
			return true
		}
		if at := strings.LastIndex(email, "@"); at >= 0 && slices.Contains(r.Domains, email[at+1:]) {
			return true
		}
	}
	for _, g := range groups {
		if slices.Contains(r.Groups, g) {
			return true
		}
	}
	return false
}

// Subsumes reports whether a principal holding have may act where need is
// required: admin includes staff, staff includes customer, customer
// includes anonymous.
func Subsumes(have, need auth.Role) bool {
	return have.Rank() >= need.Rank()
}

// minimumRole is the least role granted each permission. Some checks are
// refined by the services: customers may only upload with read-write access
// to their own customer, and permission updates are also open to a
// document's creator.
var minimumRole = map[Permission]auth.Role{
	PostRead:   auth.RoleNone,
	PostCreate: auth.RoleStaff,
	PostUpdate: auth.RoleStaff,
	PostDelete: auth.RoleStaff,

	AuthorRead:   auth.RoleNone,
	AuthorCreate: auth.RoleStaff,
	AuthorUpdate: auth.RoleStaff,
	AuthorDelete: auth.RoleStaff,

	DocumentRead:     auth.RoleCustomer,
	DocumentDownload: auth.RoleCustomer,
	DocumentUpload:   auth.RoleCustomer,
	DocumentManage:   auth.RoleStaff,

	VersionDelete:     auth.RoleAdmin,
	PermissionsUpdate: auth.RoleAdmin,

	CustomerRead:   auth.RoleStaff,
	CustomerManage: auth.RoleStaff,

	FolderRead:   auth.RoleCustomer,
	FolderCreate: auth.RoleStaff,

	AccessLogRead: auth.RoleStaff,

	WebhookManage: auth.RoleAdmin,
}

// Can reports whether role grants perm. Unknown permissions are denied.
func Can(role auth.Role, perm Permission) bool {
	need, ok := minimumRole[perm]
	if !ok {
		return false
	}
	return Subsumes(role, need)
}

// MinimumRole returns the least role granted perm
func MinimumRole(perm Permission) (auth.Role, bool) {
	r, ok := minimumRole[perm]
	return r, ok
}
