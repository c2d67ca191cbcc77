package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindProjectRoot(t *testing.T) {
	root, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("FindProjectRoot returned error: %v", err)
	}
	if root == "" {
		t.Fatal("FindProjectRoot returned empty string")
	}

	goMod := filepath.Join(root, "go.mod")
	if _, err := os.Stat(goMod); err != nil {
		t.Fatalf("go.mod not found at %s: %v", goMod, err)
	}
}

func TestWriteAndListTree(t *testing.T) {
	root := t.TempDir()
	WriteTree(t, root, map[string][]byte{
		"b/dog.jpg":   []byte("dog"),
		"a/cat.png":   []byte("cat"),
		"notes.txt":   []byte("notes"),
		"a/b/c/d.gif": []byte("deep"),
	})

	got := ListTree(t, root)
	want := []string{"a/b/c/d.gif", "a/cat.png", "b/dog.jpg", "notes.txt"}
	if len(got) != len(want) {
		t.Fatalf("ListTree() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListTree()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestListTree_MissingRoot(t *testing.T) {
	if got := ListTree(t, filepath.Join(t.TempDir(), "missing")); len(got) != 0 {
		t.Errorf("expected empty listing, got %v", got)
	}
}
