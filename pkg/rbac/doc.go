// Package rbac maps authenticated identities to portal roles and decides
// which roles may perform which actions.
//
// Roles are ordered admin > staff > customer > none. A Policy assigns roles
// from email addresses, email domains and identity-provider groups; it can
// be loaded from YAML and hot-reloaded with PolicyWatcher.
package rbac
