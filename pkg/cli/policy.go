package cli

import (
	"flag"
	"fmt"
	"strings"

	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/rbac"
)

func newValidatePolicyCommand() *Command {
	return &Command{
		Name:        "validate-policy",
		Description: "Validate a role policy file and optionally resolve an identity",
		Flags:       flag.NewFlagSet("validate-policy", flag.ExitOnError),
		Run:         runValidatePolicy,
	}
}

func runValidatePolicy(args []string) error {
	flags := flag.NewFlagSet("validate-policy", flag.ContinueOnError)
	file := flags.String("file", "", "Path to the YAML role policy")
	email := flags.String("email", "", "Resolve the role of this email")
	groups := flags.String("groups", "", "Comma-separated groups of the identity")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	policy, err := rbac.LoadPolicyFile(*file)
	if err != nil {
		return err
	}

	for _, section := range []struct {
		name  string
		rules rbac.RuleSet
	}{
		{"admin", policy.Admin},
		{"staff", policy.Staff},
		{"customer", policy.Customer},
	} {
		fmt.Fprintf(stdout, "%-9s emails=%d domains=%d groups=%d\n", section.name,
			len(section.rules.Emails), len(section.rules.Domains), len(section.rules.Groups))
	}
	if policy.Admin.Empty() {
		log.WithField("file", *file).Warn("Policy grants admin to nobody outside the built-in admin group")
	}

	if *email == "" && *groups == "" {
		return nil
	}

	id := &auth.Identity{Subject: *email, Email: *email}
	for _, g := range strings.Split(*groups, ",") {
		if g = strings.TrimSpace(g); g != "" {
			id.Groups = append(id.Groups, g)
		}
	}
	role := policy.ResolveRole(id)
	if role == auth.RoleNone {
		fmt.Fprintln(stdout, "role: none")
		return nil
	}
	fmt.Fprintf(stdout, "role: %s\n", role)
	return nil
}
