package workspace

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "workspaces.db"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestPutGetRoundTrip(t *testing.T) {
	r := openTestRegistry(t)

	entry := Entry{
		ID:   "ws-1",
		Path: "/home/dev/project",
		Kind: KindProject,
		Settings: Settings{
			Provider:   "claude",
			ClaudeBin:  "/usr/local/bin/claude",
			ClaudeArgs: "--model sonnet",
		},
	}
	if err := r.Put(entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := r.Get("ws-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Path != entry.Path {
		t.Errorf("path: got %q, want %q", got.Path, entry.Path)
	}
	if got.Settings != entry.Settings {
		t.Errorf("settings: got %+v, want %+v", got.Settings, entry.Settings)
	}
}

func TestGet_Unknown(t *testing.T) {
	r := openTestRegistry(t)
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_Replaces(t *testing.T) {
	r := openTestRegistry(t)
	if err := r.Put(Entry{ID: "ws-1", Path: "/a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Put(Entry{ID: "ws-1", Path: "/b", Kind: KindWorktree, ParentID: "ws-0"}); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get("ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != "/b" || got.Kind != KindWorktree || got.ParentID != "ws-0" {
		t.Errorf("unexpected entry after replace: %+v", got)
	}
}

func TestPut_DefaultsKind(t *testing.T) {
	r := openTestRegistry(t)
	if err := r.Put(Entry{ID: "ws-1", Path: "/a"}); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get("ws-1")
	if got.Kind != KindProject {
		t.Errorf("expected project kind, got %q", got.Kind)
	}
}

func TestPut_EmptyID(t *testing.T) {
	r := openTestRegistry(t)
	if err := r.Put(Entry{Path: "/a"}); err == nil {
		t.Fatal("expected error for empty workspace id")
	}
}

func TestParent(t *testing.T) {
	r := openTestRegistry(t)
	if err := r.Put(Entry{ID: "root", Path: "/r", Settings: Settings{ClaudeBin: "claude-root"}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Put(Entry{ID: "wt", Path: "/r-wt", ParentID: "root", Kind: KindWorktree}); err != nil {
		t.Fatal(err)
	}

	wt, _ := r.Get("wt")
	parent, ok := r.Parent(wt)
	if !ok {
		t.Fatal("expected parent to resolve")
	}
	if parent.ID != "root" {
		t.Errorf("parent id: got %q, want root", parent.ID)
	}

	root, _ := r.Get("root")
	if _, ok := r.Parent(root); ok {
		t.Error("root workspace should have no parent")
	}
}

func TestListAndDelete(t *testing.T) {
	r := openTestRegistry(t)
	for _, id := range []string{"b", "a", "c"} {
		if err := r.Put(Entry{ID: id, Path: "/" + id}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].ID != "a" {
		t.Errorf("unexpected list order: %+v", entries)
	}
	if err := r.Delete("b"); err != nil {
		t.Fatal(err)
	}
	entries, _ = r.List()
	if len(entries) != 2 {
		t.Errorf("expected 2 entries after delete, got %d", len(entries))
	}
	// Deleting again is a no-op.
	if err := r.Delete("b"); err != nil {
		t.Errorf("delete of missing id should be nil, got %v", err)
	}
}
