package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a rule set. Unknown keys are rejected.
func ParseYAML(data []byte) (*RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		if errors.Is(err, io.EOF) {
			return &RuleSet{}, nil
		}
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return &rs, nil
}

// LoadFile reads and parses a rules file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseYAML(data)
}

// LoadFile reads path and makes its rules active.
func (e *Engine) LoadFile(path string) error {
	rs, err := LoadFile(path)
	if err != nil {
		return err
	}
	return e.Load(rs)
}

// Validate checks patterns and operation keys. CEL conditions are checked when
// the rule set is compiled.
func Validate(rs *RuleSet) error {
	for i, rule := range rs.Rules {
		if _, err := compilePattern(rule.Match); err != nil {
			return fmt.Errorf("rule %d: invalid match pattern '%s': %w", i, rule.Match, err)
		}
		if len(rule.Allow) == 0 && len(rule.Deny) == 0 {
			return fmt.Errorf("rule %d: match pattern '%s' has no allow or deny conditions", i, rule.Match)
		}
		for op, condition := range rule.Allow {
			if err := validateCondition(op, condition); err != nil {
				return fmt.Errorf("rule %d: invalid allow condition: %w", i, err)
			}
		}
		for op, condition := range rule.Deny {
			if err := validateCondition(op, condition); err != nil {
				return fmt.Errorf("rule %d: invalid deny condition: %w", i, err)
			}
		}
	}
	return nil
}

func validateCondition(op Operation, condition string) error {
	if !op.valid() {
		return fmt.Errorf("invalid operation type '%s'", op)
	}
	if strings.TrimSpace(condition) == "" {
		return fmt.Errorf("condition for '%s' cannot be empty", op)
	}
	return nil
}
