package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openjustice/pipeconf/internal/deploy"
	"github.com/openjustice/pipeconf/internal/docs"
	"github.com/openjustice/pipeconf/internal/store"
)

func loadBundle(t *testing.T, content string) (*Bundle, error) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pipeconf.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return Load(store.NewDiskStore(dir), "pipeconf.yaml")
}

func TestLoad(t *testing.T) {
	b, err := loadBundle(t, `
rules:
  mapping:
    entity:
      matches: ['state_[a-z_]+']
deploy:
  project: justice-pipelines
  imageRepo: gcr.io/justice-pipelines/calc
  schedule: "0 4 * * *"
docs:
  outDir: site
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if b.Rules == nil || b.Rules.Mapping == nil {
		t.Errorf("Rules.Mapping = nil, want configured rules")
	}
	if b.Deploy.Project != "justice-pipelines" {
		t.Errorf("Deploy.Project = %q, want %q", b.Deploy.Project, "justice-pipelines")
	}
	if b.Deploy.Schedule != "0 4 * * *" {
		t.Errorf("Deploy.Schedule = %q, want explicit schedule", b.Deploy.Schedule)
	}
	if b.Docs.OutDir != "site" {
		t.Errorf("Docs.OutDir = %q, want %q", b.Docs.OutDir, "site")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	b, err := loadBundle(t, "deploy:\n  project: p\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if b.Deploy.Schedule != deploy.DefaultSchedule {
		t.Errorf("Deploy.Schedule = %q, want default %q", b.Deploy.Schedule, deploy.DefaultSchedule)
	}
	if b.Deploy.Namespace != "default" {
		t.Errorf("Deploy.Namespace = %q, want %q", b.Deploy.Namespace, "default")
	}
	if b.Docs.OutDir != docs.DefaultOutDir {
		t.Errorf("Docs.OutDir = %q, want default %q", b.Docs.OutDir, docs.DefaultOutDir)
	}
}

func TestLoadUnknownField(t *testing.T) {
	tests := []struct {
		name, content string
	}{
		{"top-level key", "rules:\nsurprise: 1\n"},
		{"rules not nested under another key", "catalog:\n  rules:\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadBundle(t, tc.content); err == nil {
				t.Errorf("Load() error = nil, want error for unknown field")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(store.NewDiskStore(t.TempDir()), "no-such.yaml"); err == nil {
		t.Errorf("Load() error = nil, want error")
	}
}
