package documents

import (
	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/rbac"
)

// grant selects one of the per-document permission lists
type grant func(Permissions) []string

func viewGrant(p Permissions) []string     { return p.CanView }
func downloadGrant(p Permissions) []string { return p.CanDownload }
func uploadGrant(p Permissions) []string   { return p.CanUpload }

// allowed decides whether principal may act on doc. Staff and admins always
// may; everyone else needs the role-level permission and one of: their
// subject or email in the list, a binding to the owning customer whose id is
// in the list, or a development identity against a demo customer.
func (s *Service) allowed(principal *auth.Principal, perm rbac.Permission, doc *Document, owner *Customer, list grant) bool {
	if !principal.Authenticated() {
		return false
	}
	if rbac.Subsumes(principal.Role, auth.RoleStaff) {
		return true
	}
	if !rbac.Can(principal.Role, perm) {
		return false
	}

	granted := list(doc.AccessPermissions)
	if contains(granted, principal.Subject()) || contains(granted, principal.Email()) {
		return true
	}
	if principal.CustomerID() == doc.CustomerID && contains(granted, doc.CustomerID) {
		return true
	}
	if principal.Identity.Source == auth.SourceDevelopment && owner != nil && s.isDemo(owner) {
		return true
	}
	return false
}

// canUploadFor reports whether principal may add documents for customer
func canUploadFor(principal *auth.Principal, customer *Customer) bool {
	if !principal.Authenticated() {
		return false
	}
	if rbac.Subsumes(principal.Role, auth.RoleStaff) {
		return true
	}
	return rbac.Can(principal.Role, rbac.DocumentUpload) &&
		principal.CustomerID() == customer.ID &&
		customer.AccessLevel == AccessReadWrite
}

// scopedCustomer returns the customer a non-staff principal is limited to,
// or "" for staff
func scopedCustomer(principal *auth.Principal) (string, bool) {
	if rbac.Subsumes(principal.Role, auth.RoleStaff) {
		return "", false
	}
	return principal.CustomerID(), true
}

func orAnonymous(p *auth.Principal) *auth.Principal {
	if p == nil {
		return &auth.Principal{}
	}
	return p
}
