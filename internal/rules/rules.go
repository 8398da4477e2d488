// Package rules implements configurable value rules that tighten the
// structural validation of mappings and manifests, e.g. restricting
// destination entity names to a known vocabulary.
package rules

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/openjustice/pipeconf/internal/fieldmap"
	"github.com/openjustice/pipeconf/internal/manifest"
	"gopkg.in/yaml.v3"
)

// ValueRegexp is a wrapper around regexp.Regexp to allow for custom YAML unmarshaling.
type ValueRegexp regexp.Regexp

// ValueRule defines a validation rule for a string value.
// It can enforce a specific list of values or a set of regular expressions.
type ValueRule struct {
	Values  []string       `yaml:"values"`
	Matches []*ValueRegexp `yaml:"matches"`
}

// MappingRules constrain the destinations of key-mapping files.
type MappingRules struct {
	// Allowed destination entity names.
	Entity *ValueRule `yaml:"entity"`
	// Allowed destination field names.
	Field *ValueRule `yaml:"field"`
}

// ManifestRules constrain the pipeline manifest.
type ManifestRules struct {
	Pipeline *ValueRule `yaml:"pipeline"`
	JobName  *ValueRule `yaml:"jobName"`
	// Applied to input, reference_input and output dataset references.
	Dataset *ValueRule `yaml:"dataset"`
}

// Config bundles all configured rules.
type Config struct {
	Mapping  *MappingRules  `yaml:"mapping"`
	Manifest *ManifestRules `yaml:"manifest"`
}

// AcceptMapping validates all destinations of m against the configured rules.
func (c *Config) AcceptMapping(m *fieldmap.Mapping) error {
	if c == nil || c.Mapping == nil {
		return nil
	}
	r := c.Mapping
	check := func(table string, refs map[string]*fieldmap.FieldRef) error {
		for col, ref := range refs {
			if ref == nil {
				continue // caught by the mapping's own validation
			}
			if !r.Entity.Accept(ref.Entity) {
				return fmt.Errorf("%s: %s[%s]: invalid entity %q (allowed: %s)",
					m.FileTag, table, col, ref.Entity, r.Entity.Describe())
			}
			if !r.Field.Accept(ref.Field) {
				return fmt.Errorf("%s: %s[%s]: invalid field %q (allowed: %s)",
					m.FileTag, table, col, ref.Field, r.Field.Describe())
			}
		}
		return nil
	}
	if err := check("key_mappings", m.KeyMappings); err != nil {
		return err
	}
	if err := check("child_key_mappings", m.ChildKeyMappings); err != nil {
		return err
	}
	return check("ancestor_keys", m.AncestorKeys)
}

// AcceptManifest validates all pipeline records of man against the configured rules.
func (c *Config) AcceptManifest(man *manifest.Manifest) error {
	if c == nil || c.Manifest == nil {
		return nil
	}
	r := c.Manifest
	for _, p := range man.Pipelines {
		if !r.Pipeline.Accept(p.Pipeline) {
			return fmt.Errorf("job %q: invalid pipeline %q (allowed: %s)",
				p.JobName, p.Pipeline, r.Pipeline.Describe())
		}
		if !r.JobName.Accept(p.JobName) {
			return fmt.Errorf("invalid job_name %q (allowed: %s)", p.JobName, r.JobName.Describe())
		}
		datasets := []string{p.Input, p.Output}
		if p.ReferenceInput != "" {
			datasets = append(datasets, p.ReferenceInput)
		}
		for _, d := range datasets {
			if !r.Dataset.Accept(d) {
				return fmt.Errorf("job %q: invalid dataset reference %q (allowed: %s)",
					p.JobName, d, r.Dataset.Describe())
			}
		}
	}
	return nil
}

// Describe returns a human-readable description of the allowed values.
func (r *ValueRule) Describe() string {
	if r == nil {
		return "any value"
	}
	if len(r.Values) > 0 {
		// e.g. "one of [state_person, state_charge]"
		return fmt.Sprintf("one of [%s]", strings.Join(r.Values, ", "))
	}
	if len(r.Matches) > 0 {
		// e.g. "matching patterns [^[a-z]+$, ^[0-9]+$]"
		patterns := make([]string, len(r.Matches))
		for i, re := range r.Matches {
			patterns[i] = (*regexp.Regexp)(re).String()
		}
		if len(patterns) == 1 {
			return fmt.Sprintf("matching pattern %s", patterns[0])
		}
		return fmt.Sprintf("matching any of patterns [%s]", strings.Join(patterns, ", "))
	}
	return "any value"
}

// Accept checks if a given value is valid according to the rule.
func (r *ValueRule) Accept(val string) bool {
	if r == nil {
		// If no rule is defined, all values are accepted.
		return true
	}
	if r.Values != nil {
		// If an explicit list of values is provided, check against it.
		return slices.Contains(r.Values, val)
	}
	if r.Matches != nil {
		// If regex patterns are provided, check if any of them match.
		for _, re := range r.Matches {
			// Cast the *ValueRegexp back to a *regexp.Regexp to access its methods.
			if (*regexp.Regexp)(re).MatchString(val) {
				return true
			}
		}
		// If there are regexes but none matched, the value is not accepted.
		return false
	}
	// If the rule is empty (e.g., "jobName:"), all values are accepted.
	return true
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for ValueRegexp.
// This allows converting a string from a YAML file directly into a compiled regexp.
func (vr *ValueRegexp) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return fmt.Errorf("regexp pattern in validation rule cannot be empty")
	}

	fullMatchPattern := "^(?:" + s + ")$"

	re, err := regexp.Compile(fullMatchPattern)
	if err != nil {
		// Return a more informative error message.
		return fmt.Errorf("failed to compile validation regexp %q: %w", s, err)
	}

	// Assign the compiled regexp to the ValueRegexp.
	*vr = ValueRegexp(*re)
	return nil
}
