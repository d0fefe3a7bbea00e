package rbac

import "strings"

// Resource represents a resource type in the portal
type Resource string

const (
	ResourcePost        Resource = "post"
	ResourceAuthor      Resource = "author"
	ResourceDocument    Resource = "document"
	ResourceVersion     Resource = "version"
	ResourcePermissions Resource = "permissions"
	ResourceCustomer    Resource = "customer"
	ResourceFolder      Resource = "folder"
	ResourceAccessLog   Resource = "access_log"
	ResourceWebhook     Resource = "webhook"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionRead     Action = "read"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionDownload Action = "download"
	ActionUpload   Action = "upload"
	ActionManage   Action = "manage"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

var (
	PostRead   = Permission{ResourcePost, ActionRead}
	PostCreate = Permission{ResourcePost, ActionCreate}
	PostUpdate = Permission{ResourcePost, ActionUpdate}
	PostDelete = Permission{ResourcePost, ActionDelete}

	AuthorRead   = Permission{ResourceAuthor, ActionRead}
	AuthorCreate = Permission{ResourceAuthor, ActionCreate}
	AuthorUpdate = Permission{ResourceAuthor, ActionUpdate}
	AuthorDelete = Permission{ResourceAuthor, ActionDelete}

	DocumentRead     = Permission{ResourceDocument, ActionRead}
	DocumentDownload = Permission{ResourceDocument, ActionDownload}
	DocumentUpload   = Permission{ResourceDocument, ActionUpload}
	DocumentManage   = Permission{ResourceDocument, ActionManage}

	VersionDelete     = Permission{ResourceVersion, ActionDelete}
	PermissionsUpdate = Permission{ResourcePermissions, ActionUpdate}

	CustomerRead   = Permission{ResourceCustomer, ActionRead}
	CustomerManage = Permission{ResourceCustomer, ActionManage}

	FolderRead   = Permission{ResourceFolder, ActionRead}
	FolderCreate = Permission{ResourceFolder, ActionCreate}

	AccessLogRead = Permission{ResourceAccessLog, ActionRead}

	WebhookManage = Permission{ResourceWebhook, ActionManage}
)

// RuleSet grants a role to identities matching any listed email, email
// domain or group. Matching is case-insensitive.
type RuleSet struct {
	Emails  []string `yaml:"emails" json:"emails,omitempty"`
	Domains []string `yaml:"domains" json:"domains,omitempty"`
	Groups  []string `yaml:"groups" json:"groups,omitempty"`
}

func (r RuleSet) normalize() RuleSet {
	return RuleSet{
		Emails:  lowerAll(r.Emails),
		Domains: lowerAll(r.Domains),
		Groups:  lowerAll(r.Groups),
	}
}

func (r RuleSet) merge(other RuleSet) RuleSet {
	return RuleSet{
		Emails:  append(append([]string{}, r.Emails...), other.Emails...),
		Domains: append(append([]string{}, r.Domains...), other.Domains...),
		Groups:  append(append([]string{}, r.Groups...), other.Groups...),
	}
}

// Empty reports whether the rule set grants nothing
func (r RuleSet) Empty() bool {
	return len(r.Emails) == 0 && len(r.Domains) == 0 && len(r.Groups) == 0
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, strings.TrimPrefix(s, "@"))
		}
	}
	return out
}
