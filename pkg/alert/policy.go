package alert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Severity is the outcome of an alert rule.
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Policy is a set of alert rules.
type Policy struct {
	// Rules are evaluated in priority order (highest first).
	Rules []Rule `yaml:"rules"`
}

// Rule is a single threshold check.
type Rule struct {
	// Name identifies the rule in the UI, logs and metrics.
	Name string `yaml:"name"`

	// Condition is a CEL expression over:
	//   - metrics (map): metric name to scaled value, e.g. metrics.edge_temp
	//     in °C, metrics.power_average in W. Only metrics holding a value
	//     are present, so guard with has().
	//   - card (string): the card id, e.g. "card0"
	Condition string `yaml:"condition"`

	// Severity is reported when the condition is true.
	Severity Severity `yaml:"severity"`

	// Priority orders evaluation. Rules with the same priority keep their
	// definition order.
	Priority int `yaml:"priority"`
}

// LoadPolicy loads an alert policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	return ParsePolicy(data)
}

// ParsePolicy parses an alert policy from YAML data.
func ParsePolicy(data []byte) (*Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parse policy YAML: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}

	return &policy, nil
}

// Validate checks that the policy is well-formed.
func (p *Policy) Validate() error {
	if len(p.Rules) == 0 {
		return fmt.Errorf("policy must have at least one rule")
	}

	names := make(map[string]bool, len(p.Rules))
	for i, rule := range p.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if names[rule.Name] {
			return fmt.Errorf("rule %q: duplicate name", rule.Name)
		}
		names[rule.Name] = true
		if rule.Condition == "" {
			return fmt.Errorf("rule %q: condition is required", rule.Name)
		}
		switch rule.Severity {
		case SeverityOK, SeverityWarning, SeverityCritical:
		default:
			return fmt.Errorf("rule %q: invalid severity %q (must be ok, warning, or critical)", rule.Name, rule.Severity)
		}
	}

	return nil
}

// SortedRules returns the rules sorted by priority (highest first),
// with stable ordering for rules with the same priority.
func (p *Policy) SortedRules() []Rule {
	sorted := make([]Rule, len(p.Rules))
	copy(sorted, p.Rules)

	// Insertion sort keeps equal priorities in definition order.
	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && sorted[j].Priority > sorted[j-1].Priority {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			j--
		}
	}

	return sorted
}
