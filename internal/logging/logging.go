// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// MaxFileSizeMB is the size at which the log file is rotated.
	MaxFileSizeMB = 10
	maxBackups    = 3
)

// Options selects level, handler format and an optional log file.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	File   string // empty logs to the console only
}

// ParseLevel maps a level name to a slog level. Unknown names yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger writing to console. When opts.File is set, every
// record is also appended to a size-rotated file. The returned closer
// releases the file and must be called before exit.
func New(opts Options, console io.Writer) (*slog.Logger, io.Closer, error) {
	var (
		writer io.Writer = console
		closer io.Closer = nopCloser{}
	)

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxFileSizeMB,
			MaxBackups: maxBackups,
		}
		writer = io.MultiWriter(console, rotating)
		closer = rotating
	}

	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, handlerOpts)
	case "", "text":
		handler = slog.NewTextHandler(writer, handlerOpts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	return slog.New(handler), closer, nil
}
