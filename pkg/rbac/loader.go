package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPolicyFile reads a YAML role policy:
//
//	admin:
//	  emails: [ceo@mustardtree.com]
//	staff:
//	  domains: [mustardtree.com]
//	customer:
//	  groups: [customers]
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML role policy. Unknown top-level keys are
// rejected so that typos do not silently drop grants.
func ParsePolicy(data []byte) (Policy, error) {
	var raw struct {
		Admin    RuleSet `yaml:"admin"`
		Staff    RuleSet `yaml:"staff"`
		Customer RuleSet `yaml:"customer"`
	}
	var probe map[string]yaml.Node
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	for k := range probe {
		switch k {
		case "admin", "staff", "customer":
		default:
			return Policy{}, fmt.Errorf("unknown policy section %q", k)
		}
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	return NewPolicy(raw.Admin, raw.Staff, raw.Customer), nil
}
