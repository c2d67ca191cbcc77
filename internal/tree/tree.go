// Package tree discovers the eligible files of a directory tree.
package tree

import (
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Scan lazily yields the path of every non-directory entry below root,
// relative to root. Symbolic links are never followed: a link to a directory
// is yielded like a file. A directory that cannot be read is logged and
// skipped; the walk continues with the directories already discovered.
//
// The sequence touches the filesystem on every iteration and takes no
// snapshot, so two iterations over a changing tree may disagree.
func Scan(root string, logger *slog.Logger) iter.Seq[string] {
	return func(yield func(string) bool) {
		stack := []string{root}
		for len(stack) > 0 {
			dir := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			entries, err := os.ReadDir(dir)
			if err != nil {
				logger.Warn("skipping unreadable directory", "path", dir, "error", err)
				continue
			}

			for _, entry := range entries {
				path := filepath.Join(dir, entry.Name())
				if entry.IsDir() {
					stack = append(stack, path)
					continue
				}

				rel, err := filepath.Rel(root, path)
				if err != nil {
					logger.Warn("failed to compute relative path", "path", path, "error", err)
					continue
				}
				if !yield(rel) {
					return
				}
			}
		}
	}
}

// Matcher holds a compiled pattern set.
type Matcher struct {
	patterns []string
	globs    []glob.Glob
}

// Compile compiles shell-style patterns (*, ?, [seq], [!seq]). Patterns are
// compiled without separators, so "*" also matches across directory
// boundaries and "*.jpg" selects JPEGs at any depth. Braces and backslashes
// are literal characters.
func Compile(patterns []string) (*Matcher, error) {
	m := &Matcher{
		patterns: append([]string(nil), patterns...),
		globs:    make([]glob.Glob, 0, len(patterns)),
	}
	for _, p := range patterns {
		g, err := glob.Compile(escapeShellPattern(p))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// escapeShellPattern quotes the glob syntax that shell patterns lack, {a,b}
// alternation and backslash escapes. Bracket expressions are copied verbatim.
func escapeShellPattern(p string) string {
	var b strings.Builder
	inClass := false
	for i, r := range p {
		switch {
		case inClass:
			// "]" right after "[" or "[!" is a member, not the end
			if r == ']' && !strings.HasSuffix(p[:i], "[") && !strings.HasSuffix(p[:i], "[!") {
				inClass = false
			}
		case r == '[':
			inClass = true
		case r == '{' || r == '}' || r == '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Patterns returns the source patterns in their configured order.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Match reports whether any pattern matches the whole relative path.
// Matching is case-sensitive.
func (m *Matcher) Match(rel string) bool {
	for _, g := range m.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Filter lazily drops the paths of seq that no pattern matches.
func (m *Matcher) Filter(seq iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for rel := range seq {
			if !m.Match(rel) {
				continue
			}
			if !yield(rel) {
				return
			}
		}
	}
}

// Eligible scans root and keeps only the paths the matcher accepts.
func (m *Matcher) Eligible(root string, logger *slog.Logger) iter.Seq[string] {
	return m.Filter(Scan(root, logger))
}
