// Package security confines file paths supplied on the command line (pcap
// captures, plot outputs) to a set of allowed root directories.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoots is returned when a path resolves outside every root.
var ErrOutsideRoots = errors.New("path escapes allowed directories")

// Sandbox is a set of directories that file arguments must stay within.
type Sandbox struct {
	roots []string
}

// NewSandbox returns a Sandbox over roots. Empty roots are ignored.
func NewSandbox(roots ...string) *Sandbox {
	s := &Sandbox{}
	for _, r := range roots {
		if strings.TrimSpace(r) != "" {
			s.roots = append(s.roots, r)
		}
	}
	return s
}

// DefaultSandbox allows the working directory and the system temp directory.
func DefaultSandbox() (*Sandbox, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewSandbox(cwd, os.TempDir()), nil
}

// Roots returns the configured roots.
func (s *Sandbox) Roots() []string { return append([]string(nil), s.roots...) }

// Check returns nil when path, after cleaning and symlink resolution, lies
// inside one of the roots. Paths that do not exist yet are resolved through
// their deepest existing parent so a symlinked directory cannot be used to
// escape.
func (s *Sandbox) Check(path string) error {
	if len(s.roots) == 0 {
		return errors.New("no allowed directories configured")
	}
	canonical, err := canonicalize(path)
	if err != nil {
		return err
	}
	for _, root := range s.roots {
		if within(canonical, root) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (allowed %v)", ErrOutsideRoots, path, s.roots)
}

// CheckOutput checks path like Check and additionally requires ext (for
// example ".png") as its extension.
func (s *Sandbox) CheckOutput(path, ext string) error {
	if !strings.EqualFold(filepath.Ext(path), ext) {
		return fmt.Errorf("output file must have %s extension: %s", ext, path)
	}
	return s.Check(path)
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// walk up to the nearest existing ancestor and re-attach the rest
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}

func within(path, root string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	canonicalRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(canonicalRoot, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// SanitizeFilename turns an identifier such as a session ID into a safe file
// name component: ASCII letters, digits, dot, underscore and dash are kept,
// runs of anything else become one underscore, and the result is capped at
// 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
