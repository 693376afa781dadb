package vault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("- alpha\n\t- beta\n")
	if err := s.Write("home.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("home.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempVault(t)
	if err := s.Write("projects/odal.md", []byte("- deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("projects/odal.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "- deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := tempVault(t)
	if err := s.Write("clean.md", []byte("- x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".odal-tmp-") {
			t.Errorf("stray temp file %s", e.Name())
		}
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := tempVault(t)
	for _, p := range []string{"../escape.md", "a/../../escape.md", "/abs.md"} {
		if _, err := s.Read(p); err == nil {
			t.Errorf("Read(%q) accepted a path outside the vault", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("Write(%q) accepted a path outside the vault", p)
		}
	}
}

func TestListFindsOnlyMarkdown(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("one.md", []byte("- a"))
	_ = s.Write("sub/two.md", []byte("- b"))
	if err := os.WriteFile(filepath.Join(s.Root(), "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	metas, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len = %d, want 2", len(metas))
	}
	for _, m := range metas {
		if m.Checksum == "" {
			t.Errorf("missing checksum for %s", m.Path)
		}
	}
}
