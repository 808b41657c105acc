// Package security keeps evidence file access confined to the evidence
// directory.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideDirectory is returned when a path resolves outside its root.
var ErrOutsideDirectory = errors.New("path escapes directory")

// ValidatePathWithinDirectory reports whether filePath, after cleaning and
// symlink resolution, stays inside dir. The file itself need not exist yet;
// the deepest existing ancestor is resolved instead.
func ValidatePathWithinDirectory(filePath, dir string) error {
	root, err := canonical(dir, true)
	if err != nil {
		return fmt.Errorf("resolving directory %s: %w", dir, err)
	}
	target, err := canonical(filePath, false)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", filePath, err)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s not under %s", ErrOutsideDirectory, filePath, dir)
	}
	return nil
}

// ResolveWithinDirectory joins a relative name onto dir, or takes an absolute
// name as is, and validates the result.
func ResolveWithinDirectory(dir, name string) (string, error) {
	if name == "" {
		return "", errors.New("empty path")
	}
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	if err := ValidatePathWithinDirectory(p, dir); err != nil {
		return "", err
	}
	return filepath.Clean(p), nil
}

// canonical returns the absolute, symlink-free form of p. When mustExist is
// false a missing tail is re-attached to the resolved ancestor so that a
// symlinked parent cannot smuggle a new file elsewhere.
func canonical(p string, mustExist bool) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	} else if mustExist {
		return "", err
	}

	tail := ""
	for cur := abs; ; {
		parent := filepath.Dir(cur)
		tail = filepath.Join(filepath.Base(cur), tail)
		if parent == cur {
			return abs, nil
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			return filepath.Join(resolved, tail), nil
		}
		cur = parent
	}
}
