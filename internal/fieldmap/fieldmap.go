// Package fieldmap implements the key-mapping artifact that drives
// column renaming during ingest: a YAML file per source-system file tag
// that maps raw column names to normalized entity fields and lists the
// columns to be excluded from processing.
package fieldmap

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/openjustice/pipeconf/internal/store"
	"gopkg.in/yaml.v3"
)

var (
	// Entity and field names are snake_case identifiers.
	validNameRE = regexp.MustCompile("^[a-z]([a-z0-9_]*[a-z0-9])?$")
	// File tags may additionally start with a digit (e.g. tak001_offender_identification).
	validFileTagRE = regexp.MustCompile("^[a-z0-9]([a-z0-9_]*[a-z0-9])?$")
)

func IsValidName(s string) bool {
	return len(s) > 0 && len(s) <= 63 && validNameRE.MatchString(s)
}

func IsValidFileTag(s string) bool {
	return len(s) > 0 && len(s) <= 127 && validFileTagRE.MatchString(s)
}

// FieldRef identifies a destination field of a normalized entity
// in the format <entity>.<field>, e.g. "state_person.birthdate".
type FieldRef struct {
	Entity string
	Field  string
}

func ParseFieldRef(s string) (*FieldRef, error) {
	entity, field, found := strings.Cut(s, ".")
	if !found {
		return nil, fmt.Errorf("destination %q is not in <entity>.<field> format", s)
	}
	if !IsValidName(entity) {
		return nil, fmt.Errorf("invalid entity name %q", entity)
	}
	if !IsValidName(field) {
		return nil, fmt.Errorf("invalid field name %q", field)
	}
	return &FieldRef{Entity: entity, Field: field}, nil
}

func (f *FieldRef) String() string {
	if f == nil {
		return ""
	}
	return f.Entity + "." + f.Field
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for FieldRef.
func (f *FieldRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("destination field must be a string scalar, but got %s", value.Tag)
	}
	ref, err := ParseFieldRef(value.Value)
	if err != nil {
		return err
	}
	*f = *ref
	return nil
}

// Class distinguishes the mapping table a source column was found in.
type Class int

const (
	ClassPrimary Class = iota
	ClassChild
	ClassAncestor
)

func (c Class) String() string {
	switch c {
	case ClassPrimary:
		return "primary"
	case ClassChild:
		return "child"
	case ClassAncestor:
		return "ancestor"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Target is the destination a source column is routed to.
type Target struct {
	Ref   *FieldRef
	Class Class
}

// SourceInfo holds file and node information for error messages
// and for reconstructing the YAML file including its comments.
type SourceInfo struct {
	Node *yaml.Node // The raw YAML source from which the mapping was parsed.
	Path string     // The path from which the mapping was read.
}

// Mapping is one key-mapping file for a single source-system file tag.
type Mapping struct {
	// Maps raw source columns to fields of the primary entity tree.
	KeyMappings map[string]*FieldRef `yaml:"key_mappings"`
	// Maps raw source columns to fields of per-row child entities.
	ChildKeyMappings map[string]*FieldRef `yaml:"child_key_mappings"`
	// Maps raw source columns to fields of an ancestor record shared across rows.
	AncestorKeys map[string]*FieldRef `yaml:"ancestor_keys"`
	// Source columns that are deliberately not processed. The rationale for
	// each exclusion lives in a YAML comment next to the entry.
	KeysToIgnore []string `yaml:"keys_to_ignore"`

	// The file tag this mapping applies to, derived from the file base name.
	FileTag string `yaml:"-"`

	*SourceInfo `yaml:"-"`
}

// IgnoredKey is a keys_to_ignore entry together with its comment rationale.
type IgnoredKey struct {
	Name      string
	Rationale string
}

// fileTagFromPath derives the file tag from the base name of path,
// e.g. "mappings/tak001_offender_identification.yaml" -> "tak001_offender_identification".
func fileTagFromPath(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// Read reads a single key-mapping file from the store.
// The mapping is decoded strictly: unknown top-level keys are an error.
func Read(st store.Store, filePath string) (*Mapping, error) {
	bs, err := st.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	// Decode once into a node to retain comments, once strictly into the struct.
	var node yaml.Node
	if err := yaml.Unmarshal(bs, &node); err != nil {
		return nil, fmt.Errorf("failed to decode YAML in %q: %w", filePath, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(bs))
	dec.KnownFields(true) // Be strict and error out on any unknown field
	var m Mapping
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid key-mapping YAML in %q: %w", filePath, err)
	}

	m.FileTag = fileTagFromPath(filePath)
	if !IsValidFileTag(m.FileTag) {
		return nil, fmt.Errorf("invalid file tag %q derived from %q", m.FileTag, filePath)
	}
	m.SourceInfo = &SourceInfo{Node: &node, Path: filePath}
	return &m, nil
}

// Lookup returns the destination for a mapped source column.
// Ignored columns are not considered mapped.
func (m *Mapping) Lookup(column string) (*Target, bool) {
	if ref, ok := m.KeyMappings[column]; ok {
		return &Target{Ref: ref, Class: ClassPrimary}, true
	}
	if ref, ok := m.ChildKeyMappings[column]; ok {
		return &Target{Ref: ref, Class: ClassChild}, true
	}
	if ref, ok := m.AncestorKeys[column]; ok {
		return &Target{Ref: ref, Class: ClassAncestor}, true
	}
	return nil, false
}

// Ignored reports whether column is listed in keys_to_ignore.
func (m *Mapping) Ignored(column string) bool {
	return slices.Contains(m.KeysToIgnore, column)
}

// MappedColumns returns all mapped source columns (excluding ignored ones), sorted.
func (m *Mapping) MappedColumns() []string {
	columns := make([]string, 0, len(m.KeyMappings)+len(m.ChildKeyMappings)+len(m.AncestorKeys))
	for c := range m.KeyMappings {
		columns = append(columns, c)
	}
	for c := range m.ChildKeyMappings {
		columns = append(columns, c)
	}
	for c := range m.AncestorKeys {
		columns = append(columns, c)
	}
	slices.Sort(columns)
	return columns
}

// sortedKeys returns the keys of a mapping table in sorted order,
// so validation reports the same error on every run.
func sortedKeys(m map[string]*FieldRef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Validate checks the structural properties of the mapping:
// every key maps to a non-empty destination, no key appears in more
// than one mapping table, and no mapped key is also ignored.
func (m *Mapping) Validate() error {
	tables := []struct {
		name string
		m    map[string]*FieldRef
	}{
		{"key_mappings", m.KeyMappings},
		{"child_key_mappings", m.ChildKeyMappings},
		{"ancestor_keys", m.AncestorKeys},
	}

	seen := map[string]string{} // source column -> table it was first seen in
	for _, t := range tables {
		for _, k := range sortedKeys(t.m) {
			if k == "" {
				return fmt.Errorf("%s: empty source column in %s", m.FileTag, t.name)
			}
			if t.m[k] == nil {
				return fmt.Errorf("%s: key %q in %s has an empty destination", m.FileTag, k, t.name)
			}
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("%s: key %q appears in both %s and %s", m.FileTag, k, prev, t.name)
			}
			seen[k] = t.name
		}
	}

	ignored := map[string]bool{}
	for _, k := range m.KeysToIgnore {
		if k == "" {
			return fmt.Errorf("%s: empty entry in keys_to_ignore", m.FileTag)
		}
		if ignored[k] {
			return fmt.Errorf("%s: key %q is listed twice in keys_to_ignore", m.FileTag, k)
		}
		ignored[k] = true
		if table, ok := seen[k]; ok {
			return fmt.Errorf("%s: key %q appears in both %s and keys_to_ignore", m.FileTag, k, table)
		}
	}

	return nil
}

// IgnoredKeys returns the keys_to_ignore entries together with the
// rationale recorded in their YAML comments, in file order.
func (m *Mapping) IgnoredKeys() []IgnoredKey {
	result := make([]IgnoredKey, 0, len(m.KeysToIgnore))
	commentFor := map[string]string{}
	if m.SourceInfo != nil && m.Node != nil {
		if seq := findMappingValue(m.Node, "keys_to_ignore"); seq != nil && seq.Kind == yaml.SequenceNode {
			for _, item := range seq.Content {
				if c := commentText(item); c != "" {
					commentFor[item.Value] = c
				}
			}
		}
	}
	for _, k := range m.KeysToIgnore {
		result = append(result, IgnoredKey{Name: k, Rationale: commentFor[k]})
	}
	return result
}

// findMappingValue returns the value node for the given top-level key.
func findMappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	// Content alternates key, value, key, value, ...
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// commentText extracts a single-line rationale from a node's comments.
// A line comment takes precedence over a head comment.
func commentText(node *yaml.Node) string {
	c := node.LineComment
	if c == "" {
		c = node.HeadComment
	}
	var lines []string
	for _, line := range strings.Split(c, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}
