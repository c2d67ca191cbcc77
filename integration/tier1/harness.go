//go:build integration

package tier1

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/imgmirror/internal/testutil"
)

const (
	binaryName     = "imgmirror"
	defaultTimeout = 5 * time.Minute
)

// Harness builds the imgmirror binary once and runs it against scratch trees
type Harness struct {
	t          *testing.T
	binPath    string
	workDir    string
	keepOnFail bool
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	keep := os.Getenv("INTEGRATION_KEEP_WORKDIR") == "1"

	workDir, err := os.MkdirTemp("", "imgmirror-tier1-*")
	if err != nil {
		t.Fatalf("create work dir: %v", err)
	}

	h := &Harness{
		t:          t,
		binPath:    filepath.Join(workDir, "bin", binaryName),
		workDir:    workDir,
		keepOnFail: keep,
	}
	t.Cleanup(h.Cleanup)
	return h
}

// BuildBinary compiles cmd/imgmirror into the work dir
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.t.Logf("Building %s", h.binPath)
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binPath, "./cmd/imgmirror")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Cleanup removes the work dir unless the test failed and
// INTEGRATION_KEEP_WORKDIR=1 is set
func (h *Harness) Cleanup() {
	if h.keepOnFail && h.t.Failed() {
		h.t.Logf("Test failed and INTEGRATION_KEEP_WORKDIR=1, keeping %s", h.workDir)
		return
	}
	_ = os.RemoveAll(h.workDir)
}

// Path returns rel resolved inside the work dir
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.workDir, filepath.FromSlash(rel))
}

// Run executes the binary with args
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// WriteFile writes a file below the work dir, creating parents
func (h *Harness) WriteFile(rel string, data []byte) {
	h.t.Helper()
	testutil.WriteTree(h.t, h.workDir, map[string][]byte{rel: data})
}

// FileExists checks if a regular file exists below the work dir
func (h *Harness) FileExists(rel string) bool {
	info, err := os.Stat(h.Path(rel))
	return err == nil && info.Mode().IsRegular()
}

// LogEntry is one JSON log record written by the binary
type LogEntry struct {
	Level string
	Msg   string
	Attrs map[string]any
}

// String returns a human-readable representation
func (e LogEntry) String() string {
	return fmt.Sprintf("%s %s %v", e.Level, e.Msg, e.Attrs)
}

// Int returns a numeric attribute, or -1 when absent
func (e LogEntry) Int(key string) int {
	v, ok := e.Attrs[key].(float64)
	if !ok {
		return -1
	}
	return int(v)
}

// ParseLog parses the output of a run with --log-format json. Lines that are
// not JSON objects are skipped.
func ParseLog(output string) ([]LogEntry, error) {
	var entries []LogEntry
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var attrs map[string]any
		if err := json.Unmarshal([]byte(line), &attrs); err != nil {
			return nil, fmt.Errorf("parse log line %q: %w", line, err)
		}

		level, _ := attrs["level"].(string)
		msg, _ := attrs["msg"].(string)
		delete(attrs, "level")
		delete(attrs, "msg")
		delete(attrs, "time")

		entries = append(entries, LogEntry{Level: level, Msg: msg, Attrs: attrs})
	}
	return entries, scanner.Err()
}

// FindLog returns the first entry with msg
func FindLog(entries []LogEntry, msg string) (LogEntry, bool) {
	for _, e := range entries {
		if e.Msg == msg {
			return e, true
		}
	}
	return LogEntry{}, false
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
