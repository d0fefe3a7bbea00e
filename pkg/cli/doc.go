// Package cli implements portal-admin, the operator tool for the portal.
//
// # Commands
//
// generate-credentials: create a bootstrap admin password and print the
// environment that seeds it
//
//	portal-admin generate-credentials --username admin --email it@mustardtree.com
//
// hash-password: print the bcrypt hash for PORTAL_BOOTSTRAP_PASSWORD_HASH.
// The password is read from stdin when --password is omitted.
//
//	echo 'Correct-Horse-42!' | portal-admin hash-password
//
// check-password: report policy problems and compare against a hash
//
//	portal-admin check-password --hash '$2a$12$...' < password.txt
//
// validate-policy: parse a role policy file and resolve an identity
//
//	portal-admin validate-policy --file policy.yaml --email jo@acme.com --groups customers
//
// run-maintenance: clean up expired sessions and prune the access log
// using the PORTAL_* storage configuration
//
//	portal-admin run-maintenance --timeout 5m
//
// Results go to stdout; warnings and errors are logged to stderr.
package cli
