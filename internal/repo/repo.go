// Package repo ties the configuration artifacts together: all key-mapping
// files, the pipeline manifest, and the CI configuration, loaded from a
// store and validated as a unit.
package repo

import (
	"fmt"
	"log"
	"slices"

	"github.com/openjustice/pipeconf/internal/ci"
	"github.com/openjustice/pipeconf/internal/fieldmap"
	"github.com/openjustice/pipeconf/internal/manifest"
	"github.com/openjustice/pipeconf/internal/rules"
	"github.com/openjustice/pipeconf/internal/store"
)

// Config holds repository-specific configuration.
type Config struct {
	Rules *rules.Config `yaml:"rules"`
}

// Layout names the locations of the configuration artifacts within a store.
// Empty manifest and CI paths mean the artifact is absent.
type Layout struct {
	MappingsDir  string
	ManifestFile string
	CIFile       string
}

// Repository holds the validated configuration artifacts of one revision.
type Repository struct {
	// Key-mapping files, keyed by file tag.
	mappings map[string]*fieldmap.Mapping
	manifest *manifest.Manifest
	ci       *ci.Config

	config Config
}

func NewRepositoryWithConfig(config Config) *Repository {
	return &Repository{
		mappings: make(map[string]*fieldmap.Mapping),
		config:   config,
	}
}

func NewRepository() *Repository {
	return NewRepositoryWithConfig(Config{})
}

// Size returns the number of loaded artifacts.
func (r *Repository) Size() int {
	n := len(r.mappings)
	if r.manifest != nil {
		n++
	}
	if r.ci != nil {
		n++
	}
	return n
}

// AddMapping adds a key-mapping file to the repository.
// File tags must be unique across the repository.
func (r *Repository) AddMapping(m *fieldmap.Mapping) error {
	if m.FileTag == "" {
		return fmt.Errorf("mapping has no file tag")
	}
	if prev, ok := r.mappings[m.FileTag]; ok {
		prevPath := ""
		if prev.SourceInfo != nil {
			prevPath = prev.SourceInfo.Path
		}
		return fmt.Errorf("duplicate file tag %q (already loaded from %s)", m.FileTag, prevPath)
	}
	r.mappings[m.FileTag] = m
	return nil
}

// Mapping returns the key mapping for the given file tag, or nil.
func (r *Repository) Mapping(fileTag string) *fieldmap.Mapping {
	return r.mappings[fileTag]
}

// FileTags returns all loaded file tags, sorted.
func (r *Repository) FileTags() []string {
	tags := make([]string, 0, len(r.mappings))
	for t := range r.mappings {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

func (r *Repository) Manifest() *manifest.Manifest {
	return r.manifest
}

func (r *Repository) CI() *ci.Config {
	return r.ci
}

// Validate validates all artifacts, including the configured rules.
func (r *Repository) Validate() error {
	for _, tag := range r.FileTags() {
		m := r.mappings[tag]
		if err := m.Validate(); err != nil {
			return fmt.Errorf("key mapping %s is invalid: %v", tag, err)
		}
		if err := r.config.Rules.AcceptMapping(m); err != nil {
			return fmt.Errorf("key mapping %s failed validation of configured rules: %v", tag, err)
		}
	}
	if r.manifest != nil {
		if err := r.manifest.Validate(); err != nil {
			return fmt.Errorf("manifest %s is invalid: %v", r.manifest.Path, err)
		}
		if err := r.config.Rules.AcceptManifest(r.manifest); err != nil {
			return fmt.Errorf("manifest %s failed validation of configured rules: %v", r.manifest.Path, err)
		}
	}
	if r.ci != nil {
		if err := r.ci.Validate(); err != nil {
			return fmt.Errorf("CI configuration %s is invalid: %v", r.ci.Path, err)
		}
	}
	return nil
}

// Load reads all configuration artifacts named by layout from the given
// store and returns a validated repository.
func Load(st store.Store, config Config, layout Layout) (*Repository, error) {
	r := NewRepositoryWithConfig(config)

	if layout.MappingsDir != "" {
		paths, err := store.MappingFiles(st, layout.MappingsDir)
		if err != nil {
			return nil, fmt.Errorf("cannot list key-mapping files: %v", err)
		}
		for _, p := range paths {
			log.Printf("Reading key-mapping file %s", p)
			m, err := fieldmap.Read(st, p)
			if err != nil {
				return nil, fmt.Errorf("failed to read key mapping from %s: %v", p, err)
			}
			if err := r.AddMapping(m); err != nil {
				return nil, fmt.Errorf("failed to add key mapping from %s: %v", p, err)
			}
		}
	}

	if layout.ManifestFile != "" {
		log.Printf("Reading pipeline manifest %s", layout.ManifestFile)
		man, err := manifest.Read(st, layout.ManifestFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %v", err)
		}
		r.manifest = man
	}

	if layout.CIFile != "" {
		log.Printf("Reading CI configuration %s", layout.CIFile)
		c, err := ci.Read(st, layout.CIFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CI configuration: %v", err)
		}
		r.ci = c
	}

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("repository validation failed: %v", err)
	}

	return r, nil
}
