package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath     = errors.New("path cannot be empty")
	ErrOutsideRoots  = errors.New("path outside allowed directories")
	ErrPathTraversal = errors.New("path contains directory traversal")
)

// WithinRoots resolves path to an absolute, symlink-free form and reports
// whether it lies inside one of roots. Symlinks in the roots themselves are
// resolved too, so a home directory under /var -> /private/var still
// matches. A path that does not exist yet is checked as written.
func WithinRoots(path string, roots ...string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	resolved := evalSymlinks(abs)

	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		for _, r := range []string{rootAbs, evalSymlinks(rootAbs)} {
			if resolved == r || strings.HasPrefix(resolved, r+string(filepath.Separator)) {
				return resolved, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideRoots, path)
}

// evalSymlinks resolves p, falling back to the deepest existing parent so
// files that do not exist yet still resolve through a symlinked directory.
func evalSymlinks(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	dir, base := filepath.Split(p)
	dir = filepath.Clean(dir)
	if dir == p || dir == "." || dir == string(filepath.Separator) {
		return p
	}
	return filepath.Join(evalSymlinks(dir), base)
}
