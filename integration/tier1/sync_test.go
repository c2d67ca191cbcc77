//go:build integration

package tier1

import (
	"context"
	"image"
	"image/color"
	"os"
	"strings"
	"testing"

	"github.com/schaermu/imgmirror/internal/testutil"
)

const (
	sourceDir = "source"
	destDir   = "dest"
	historyDB = "state/history.db"
)

func TestTier1Mirror(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)

	if err := h.BuildBinary(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	setupSourceTree(t, h)

	// Scenarios share the work dir and run in order
	t.Run("A_DryRunChangesNothing", func(t *testing.T) {
		testDryRun(t, h, ctx)
	})

	t.Run("B_InitialMirror", func(t *testing.T) {
		testInitialMirror(t, h, ctx)
	})

	t.Run("C_SecondRunIsNoOp", func(t *testing.T) {
		testNoOpRun(t, h, ctx)
	})

	t.Run("D_RemovedSourceFileIsDeleted", func(t *testing.T) {
		testPrune(t, h, ctx)
	})

	t.Run("E_HistoryListsRuns", func(t *testing.T) {
		testHistory(t, h, ctx)
	})

	t.Run("F_ConfigErrorsExitNonZero", func(t *testing.T) {
		testConfigErrors(t, h, ctx)
	})
}

// setupSourceTree writes the source images and a dest file outside the patterns
func setupSourceTree(t *testing.T, h *Harness) {
	t.Helper()
	h.WriteFile(sourceDir+"/a/cat.png", testutil.TranslucentPNG(t, 1200, 600))
	h.WriteFile(sourceDir+"/b/dog.jpg", testutil.JPEGWithOrientation(t, testutil.Solid(2000, 1000, color.NRGBA{G: 180, A: 255}), 6))
	h.WriteFile(sourceDir+"/b/anim.gif", testutil.AnimatedGIF(t, 64, 32))
	h.WriteFile(sourceDir+"/broken.jpg", []byte("not really a jpeg"))
	h.WriteFile(sourceDir+"/notes.txt", []byte("never mirrored"))
	h.WriteFile(destDir+"/README.md", []byte("not an image, left alone"))
}

func mirrorArgs(h *Harness, extra ...string) []string {
	args := []string{
		"--source", h.Path(sourceDir),
		"--dest", h.Path(destDir),
		"--size", "800", "800",
		"--square",
		"--log-format", "json",
		"--history-db", h.Path(historyDB),
	}
	return append(args, extra...)
}

func completedEntry(t *testing.T, stdout string) LogEntry {
	t.Helper()
	entries, err := ParseLog(stdout)
	if err != nil {
		t.Fatalf("parse log: %v", err)
	}
	entry, ok := FindLog(entries, "sync completed")
	if !ok {
		t.Fatalf("no completion record in output:\n%s", stdout)
	}
	return entry
}

func testDryRun(t *testing.T, h *Harness, ctx context.Context) {
	stdout, _ := h.MustRun(ctx, mirrorArgs(h, "--dry-run")...)

	entries, err := ParseLog(stdout)
	if err != nil {
		t.Fatalf("parse log: %v", err)
	}
	plan, ok := FindLog(entries, "sync plan")
	if !ok {
		t.Fatalf("no plan record in output:\n%s", stdout)
	}
	if plan.Int("copy") != 4 || plan.Int("delete") != 0 {
		t.Errorf("unexpected plan %s", plan)
	}

	got := testutil.ListTree(t, h.Path(destDir))
	if len(got) != 1 || got[0] != "README.md" {
		t.Errorf("dry run changed dest: %v", got)
	}
}

func testInitialMirror(t *testing.T, h *Harness, ctx context.Context) {
	stdout, _ := h.MustRun(ctx, mirrorArgs(h)...)

	done := completedEntry(t, stdout)
	if done.Int("copied") != 4 || done.Int("failed") != 0 {
		t.Errorf("unexpected completion %s", done)
	}
	if done.Int("skipped") != 1 {
		t.Errorf("expected the broken jpeg to be skipped, got %s", done)
	}

	want := []string{"README.md", "a/cat.png", "b/anim.gif", "b/dog.jpg", "broken.jpg"}
	got := testutil.ListTree(t, h.Path(destDir))
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("dest tree = %v, want %v", got, want)
	}

	for _, rel := range []string{"a/cat.png", "b/dog.jpg"} {
		img, _ := testutil.DecodeFile(t, h.Path(destDir+"/"+rel))
		if size := img.Bounds().Size(); size != image.Pt(800, 800) {
			t.Errorf("%s: size %v, want 800x800", rel, size)
		}
	}

	data, err := os.ReadFile(h.Path(destDir + "/broken.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "not really a jpeg" {
		t.Errorf("broken.jpg was modified: %q", data)
	}
}

func testNoOpRun(t *testing.T, h *Harness, ctx context.Context) {
	stdout, _ := h.MustRun(ctx, mirrorArgs(h)...)

	done := completedEntry(t, stdout)
	if done.Int("copied") != 0 || done.Int("deleted") != 0 {
		t.Errorf("second run should be a no-op, got %s", done)
	}
}

func testPrune(t *testing.T, h *Harness, ctx context.Context) {
	if err := os.Remove(h.Path(sourceDir + "/b/anim.gif")); err != nil {
		t.Fatal(err)
	}

	stdout, _ := h.MustRun(ctx, mirrorArgs(h)...)

	done := completedEntry(t, stdout)
	if done.Int("deleted") != 1 || done.Int("copied") != 0 {
		t.Errorf("unexpected completion %s", done)
	}
	if h.FileExists(destDir + "/b/anim.gif") {
		t.Error("anim.gif should have been deleted")
	}
	if !h.FileExists(destDir + "/README.md") {
		t.Error("README.md is not eligible and must be left alone")
	}
}

func testHistory(t *testing.T, h *Harness, ctx context.Context) {
	stdout, _ := h.MustRun(ctx, "history", "--history-db", h.Path(historyDB), "--limit", "10")

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	// header plus the dry run, initial, no-op and prune runs
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), stdout)
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("missing header: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "4 ") {
		t.Errorf("newest run should be listed first: %q", lines[1])
	}
}

func testConfigErrors(t *testing.T, h *Harness, ctx context.Context) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing source", args: []string{"--dest", h.Path(destDir)}},
		{name: "source does not exist", args: []string{"--source", h.Path("nope"), "--dest", h.Path(destDir)}},
		{name: "zero size", args: []string{"--source", h.Path(sourceDir), "--dest", h.Path(destDir), "--size", "0", "800"}},
		{name: "invalid pattern", args: []string{"--source", h.Path(sourceDir), "--dest", h.Path(destDir), "--pattern", "[x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, exitCode, err := h.Run(ctx, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			if exitCode == 0 {
				t.Errorf("expected non-zero exit, stderr: %s", stderr)
			}
		})
	}
}
