package store

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeFiles(t *testing.T, files map[string]string) *DiskStore {
	t.Helper()
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
	return NewDiskStore(dir)
}

func TestDiskStoreReadWrite(t *testing.T) {
	st := writeFiles(t, map[string]string{
		"mappings/tak001.yaml": "key_mappings: {}\n",
	})

	content, err := st.ReadFile("mappings/tak001.yaml")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "key_mappings: {}\n" {
		t.Errorf("ReadFile() = %q, want file content", string(content))
	}

	if err := st.WriteFile("mappings/tak001.yaml", []byte("updated\n")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	content, err = st.ReadFile("mappings/tak001.yaml")
	if err != nil {
		t.Fatalf("ReadFile() after write error = %v", err)
	}
	if string(content) != "updated\n" {
		t.Errorf("ReadFile() after write = %q, want %q", string(content), "updated\n")
	}
}

func TestDiskStoreEscapingPath(t *testing.T) {
	st := writeFiles(t, map[string]string{"a.yaml": "a\n"})

	if _, err := st.ReadFile("../outside.yaml"); err == nil {
		t.Errorf("ReadFile(../outside.yaml) error = nil, want error")
	}
	if err := st.WriteFile("../outside.yaml", []byte("x")); err == nil {
		t.Errorf("WriteFile(../outside.yaml) error = nil, want error")
	}
}

func TestDiskStoreListFiles(t *testing.T) {
	st := writeFiles(t, map[string]string{
		"mappings/tak001.yaml":       "a\n",
		"mappings/nested/tak002.yml": "b\n",
		"mappings/nested/notes.txt":  "c\n",
		"calculation_templates.yaml": "d\n",
	})

	files, err := st.ListFiles("mappings")
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	slices.Sort(files)
	want := []string{
		filepath.Join("mappings", "nested", "notes.txt"),
		filepath.Join("mappings", "nested", "tak002.yml"),
		filepath.Join("mappings", "tak001.yaml"),
	}
	if !slices.Equal(files, want) {
		t.Errorf("ListFiles() = %v, want %v", files, want)
	}
}

func TestDiskStoreSource(t *testing.T) {
	st := writeFiles(t, map[string]string{"a.yaml": "a\n"})

	if err := st.Refresh(); err != nil {
		t.Errorf("Refresh() error = %v", err)
	}
	s, err := st.Store("")
	if err != nil {
		t.Fatalf("Store(\"\") error = %v", err)
	}
	if s != Store(st) {
		t.Errorf("Store(\"\") = %v, want the disk store itself", s)
	}
	if _, err := st.Store("v1.0.0"); err == nil {
		t.Errorf("Store(v1.0.0) error = nil, want error for versioned ref")
	}
}

func TestMappingFiles(t *testing.T) {
	st := writeFiles(t, map[string]string{
		"mappings/tak001.yaml": "a\n",
		"mappings/tak002.yml":  "b\n",
		"mappings/tak003.YAML": "c\n",
		"mappings/README.md":   "d\n",
		"mappings/notes.txt":   "e\n",
	})

	files, err := MappingFiles(st, "mappings")
	if err != nil {
		t.Fatalf("MappingFiles() error = %v", err)
	}
	slices.Sort(files)
	want := []string{
		filepath.Join("mappings", "tak001.yaml"),
		filepath.Join("mappings", "tak002.yml"),
		filepath.Join("mappings", "tak003.YAML"),
	}
	if !slices.Equal(files, want) {
		t.Errorf("MappingFiles() = %v, want %v", files, want)
	}
}
