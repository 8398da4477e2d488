package store

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/openjustice/pipeconf/internal/gitclient"
)

// createTestRepo initializes a git repo in a temp dir with some dummy content
// and returns the path to that directory.
//
// This is duplicated from internal/gitclient/gitclient_test.go because we cannot easily
// share test helpers across packages without creating a testutil package.
//
// Structure:
// v1.0.0 (tag)
//   - manifest.yaml ("v1 manifest")
//
// v1.1.0 (tag)
//   - manifest.yaml ("v2 manifest")
//   - mappings/tak001.yaml ("mapping content")
func createTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init git repo: %v", err)
	}

	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	commit := func(msg string) {
		_, err := w.Add(".")
		if err != nil {
			t.Fatalf("Failed to add files: %v", err)
		}
		_, err = w.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{
				Name:  "Test User",
				Email: "test@example.com",
				When:  time.Now(),
			},
		})
		if err != nil {
			t.Fatalf("Failed to commit: %v", err)
		}
	}

	tag := func(name string) {
		head, err := repo.Head()
		if err != nil {
			t.Fatalf("Failed to get HEAD: %v", err)
		}
		if _, err := repo.CreateTag(name, head.Hash(), nil); err != nil {
			t.Fatalf("Failed to create tag %s: %v", name, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("v1 manifest"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	commit("Initial commit")
	tag("v1.0.0")

	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("v2 manifest"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "mappings"), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mappings", "tak001.yaml"), []byte("mapping content"), 0644); err != nil {
		t.Fatalf("Failed to write nested file: %v", err)
	}
	commit("Second commit")
	tag("v1.1.0")

	return dir
}

func TestGitSource(t *testing.T) {
	repoPath := createTestRepo(t)

	client, err := gitclient.New(repoPath, nil)
	if err != nil {
		t.Fatalf("gitclient.New failed: %v", err)
	}

	gs := NewGitSource(client, "master")

	t.Run("DefaultRef", func(t *testing.T) {
		if got := gs.DefaultRef(); got != "master" {
			t.Errorf("DefaultRef() = %q, want %q", got, "master")
		}
	})

	t.Run("ListReferences", func(t *testing.T) {
		refs, err := gs.ListReferences()
		if err != nil {
			t.Fatalf("ListReferences() failed: %v", err)
		}
		expected := []string{"master", "v1.0.0", "v1.1.0"}
		if len(refs) != len(expected) {
			t.Errorf("ListReferences() got %v, want %v", refs, expected)
		}
		for _, e := range expected {
			if !slices.Contains(refs, e) {
				t.Errorf("ListReferences() missing %q", e)
			}
		}
	})

	t.Run("ListTags", func(t *testing.T) {
		tags, err := gs.ListTags()
		if err != nil {
			t.Fatalf("ListTags() failed: %v", err)
		}
		slices.Sort(tags)
		if !slices.Equal(tags, []string{"v1.0.0", "v1.1.0"}) {
			t.Errorf("ListTags() got %v, want [v1.0.0 v1.1.0]", tags)
		}
	})

	t.Run("Store_DefaultRef", func(t *testing.T) {
		// Empty ref should default to master
		st, err := gs.Store("")
		if err != nil {
			t.Fatalf("Store(\"\") failed: %v", err)
		}
		content, err := st.ReadFile("manifest.yaml")
		if err != nil {
			t.Fatalf("ReadFile(manifest.yaml) failed: %v", err)
		}
		if string(content) != "v2 manifest" {
			t.Errorf("master: expected 'v2 manifest', got %q", string(content))
		}
	})

	t.Run("Store_SpecificRef", func(t *testing.T) {
		st, err := gs.Store("v1.0.0")
		if err != nil {
			t.Fatalf("Store(\"v1.0.0\") failed: %v", err)
		}
		content, err := st.ReadFile("manifest.yaml")
		if err != nil {
			t.Fatalf("ReadFile(manifest.yaml) failed: %v", err)
		}
		if string(content) != "v1 manifest" {
			t.Errorf("v1.0.0: expected 'v1 manifest', got %q", string(content))
		}
	})

	t.Run("Store_InvalidRef", func(t *testing.T) {
		_, err := gs.Store("non-existent")
		if err != ErrNoSuchRef {
			t.Errorf("Store(\"non-existent\") error = %v, want ErrNoSuchRef", err)
		}
	})

	t.Run("GitStore_ListFiles", func(t *testing.T) {
		st, err := gs.Store("v1.1.0")
		if err != nil {
			t.Fatalf("Store(\"v1.1.0\") failed: %v", err)
		}

		// The git store joins the dir with the file name, so listing
		// "mappings" returns "mappings/tak001.yaml".
		files, err := st.ListFiles("mappings")
		if err != nil {
			t.Fatalf("ListFiles(mappings) failed: %v", err)
		}
		if len(files) != 1 || files[0] != "mappings/tak001.yaml" {
			t.Errorf("ListFiles(mappings) got %v, want [mappings/tak001.yaml]", files)
		}
	})

	t.Run("GitStore_WriteFile", func(t *testing.T) {
		st, err := gs.Store("master")
		if err != nil {
			t.Fatalf("Store(\"master\") failed: %v", err)
		}
		err = st.WriteFile("any.txt", []byte("foo"))
		if err != ErrReadOnly {
			t.Errorf("WriteFile() error = %v, want ErrReadOnly", err)
		}
	})
}
