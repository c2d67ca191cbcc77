package sync

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/imgmirror/internal/normalize"
)

// Normalizer rewrites a freshly copied image in place
type Normalizer interface {
	Normalize(path string) error
}

// Executor applies single actions to the destination tree
type Executor struct {
	normalizer Normalizer // nil disables normalization
	logger     *slog.Logger
}

// NewExecutor creates an executor. A nil normalizer turns copies into plain
// byte copies.
func NewExecutor(normalizer Normalizer, logger *slog.Logger) *Executor {
	return &Executor{normalizer: normalizer, logger: logger}
}

// Execute applies a and records its outcome in res. A returned error means
// the action was abandoned; the caller counts it as failed.
func (x *Executor) Execute(a Action, res *Result) error {
	switch a.Kind {
	case ActionCopy:
		x.logger.Info("copying file", "source", a.SourcePath, "dest", a.DestPath)
		if err := copyFile(a.SourcePath, a.DestPath); err != nil {
			return fmt.Errorf("failed to copy %s: %w", a.RelPath, err)
		}
		res.copied.Add(1)
		x.normalize(a, res)
		return nil

	case ActionDelete:
		x.logger.Info("deleting file", "dest", a.DestPath)
		if err := os.Remove(a.DestPath); err != nil {
			return fmt.Errorf("failed to delete %s: %w", a.RelPath, err)
		}
		res.deleted.Add(1)
		return nil

	default:
		return fmt.Errorf("unknown action kind %d for %s", a.Kind, a.RelPath)
	}
}

// normalize is best effort: the plain copy stays in place when it fails.
func (x *Executor) normalize(a Action, res *Result) {
	if x.normalizer == nil {
		return
	}

	err := x.normalizer.Normalize(a.DestPath)
	switch {
	case err == nil:
		res.normalized.Add(1)
	case errors.Is(err, normalize.ErrUndecodable):
		res.skipped.Add(1)
		x.logger.Warn("not an image, kept plain copy", "dest", a.DestPath, "error", err)
	default:
		res.skipped.Add(1)
		x.logger.Warn("failed to normalize image, kept plain copy", "dest", a.DestPath, "error", err)
	}
}

// copyFile copies a file from src to dst with atomic write
func copyFile(src, dst string) error {
	// Ensure parent directory exists; MkdirAll tolerates concurrent creators
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".imgmirror-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, dst)
}
