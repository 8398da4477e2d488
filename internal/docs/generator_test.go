package docs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openjustice/pipeconf/internal/repo"
	"github.com/openjustice/pipeconf/internal/store"
)

func loadTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	files := map[string]string{
		"mappings/tak001_offender_identification.yaml": `
key_mappings:
  DOC_ID: state_person.external_id
child_key_mappings:
  CHARGE_CD: state_charge.statute
keys_to_ignore:
  - UPDATE_DT # Only tracks row modification time
`,
		"pipelines.yaml": `
pipeline_count: 1
pipelines:
  - pipeline: recidivism
    job_name: recidivism-calculations-36
    input: state
    output: dataflow_metrics
`,
	}
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}
	r, err := repo.Load(store.NewDiskStore(dir), repo.Config{}, repo.Layout{
		MappingsDir:  "mappings",
		ManifestFile: "pipelines.yaml",
	})
	if err != nil {
		t.Fatalf("repo.Load() error = %v", err)
	}
	return r
}

func readPage(t *testing.T, dir, name string) string {
	t.Helper()
	bs, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to read generated page %s: %v", name, err)
	}
	return string(bs)
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	if c.OutDir != DefaultOutDir {
		t.Errorf("OutDir = %q, want default %q", c.OutDir, DefaultOutDir)
	}
	c = Config{OutDir: "site"}.WithDefaults()
	if c.OutDir != "site" {
		t.Errorf("OutDir = %q, want explicit value kept", c.OutDir)
	}
}

func TestGenerate(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "docs")
	g := NewGenerator(loadTestRepo(t))
	if err := g.Generate(outDir); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	t.Run("index", func(t *testing.T) {
		index := readPage(t, outDir, "index.md")
		if !strings.Contains(index, "tak001_offender_identification") {
			t.Errorf("index.md does not link the mapping page:\n%s", index)
		}
		if !strings.Contains(index, "pipelines.html") {
			t.Errorf("index.md does not link the pipelines page:\n%s", index)
		}
	})

	t.Run("mapping page", func(t *testing.T) {
		page := readPage(t, outDir, "tak001_offender_identification.md")
		for _, want := range []string{
			"| DOC_ID | state_person.external_id |",
			"| CHARGE_CD | state_charge.statute |",
			"| UPDATE_DT | Only tracks row modification time |",
		} {
			if !strings.Contains(page, want) {
				t.Errorf("mapping page is missing %q:\n%s", want, page)
			}
		}
		if strings.Contains(page, "Ancestor keys") {
			t.Errorf("mapping page has an ancestor section for a mapping without ancestor keys")
		}
	})

	t.Run("pipelines page", func(t *testing.T) {
		page := readPage(t, outDir, "pipelines.md")
		if !strings.Contains(page, "| recidivism | recidivism-calculations-36 | state | - | dataflow_metrics |") {
			t.Errorf("pipelines page is missing the job row:\n%s", page)
		}
	})

	t.Run("html rendering", func(t *testing.T) {
		page := readPage(t, outDir, "tak001_offender_identification.html")
		if !strings.Contains(page, "<table>") {
			t.Errorf("HTML page has no rendered table:\n%s", page)
		}
		if !strings.Contains(page, "<html>") {
			t.Errorf("HTML page has no document frame")
		}
	})
}
