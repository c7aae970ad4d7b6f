// Package acl decides whether a principal may run a planned statement. The
// policy is a YAML file of group memberships, table rules and partition
// requirements, enforced through casbin.
package acl

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule effects.
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// Policy is the on-disk ACL document.
type Policy struct {
	// Groups maps a role to its member principals.
	Groups     map[string][]string `yaml:"groups"`
	Rules      []Rule              `yaml:"rules"`
	Partitions []Partition         `yaml:"partitions"`
}

// Rule grants or denies a principal or role access to tables matching Table.
// A trailing "*" in Table matches any suffix.
type Rule struct {
	Principal string `yaml:"principal"`
	Table     string `yaml:"table"`
	Effect    string `yaml:"effect"`
}

// Partition requires statements reading Table to filter on Column.
type Partition struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
}

// LoadPolicy reads and validates the policy file at path.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read acl policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse acl policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every rule and partition entry.
func (p *Policy) Validate() error {
	for i, r := range p.Rules {
		if r.Principal == "" || r.Table == "" {
			return fmt.Errorf("acl rule %d: principal and table are required", i)
		}
		switch strings.ToLower(r.Effect) {
		case EffectAllow, EffectDeny, "":
		default:
			return fmt.Errorf("acl rule %d: unknown effect %q", i, r.Effect)
		}
	}
	for i, pt := range p.Partitions {
		if pt.Table == "" || pt.Column == "" {
			return fmt.Errorf("acl partition %d: table and column are required", i)
		}
	}
	return nil
}
