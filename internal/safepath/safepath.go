// Package safepath confines caller-supplied file names to a base directory.
//
// Resolve is the only way the stream handler turns a request path into a
// filesystem path: every name is checked lexically, then again after
// symlinks are evaluated. Open then reads the result through an os.Root.
package safepath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

var (
	// ErrNotFound means the name is acceptable but nothing servable exists there.
	ErrNotFound = errors.New("safepath: not found")
	// ErrForbidden means the name escapes, or tries to escape, the base directory.
	ErrForbidden = errors.New("safepath: forbidden")
)

// Root is a canonical base directory.
type Root struct {
	dir string
}

// New returns a Root for dir. dir is made absolute and its symlinks are
// evaluated once here, so later containment checks compare canonical paths.
func New(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("safepath: %s: %w", dir, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("safepath: %s: %w", dir, err)
	}
	fi, err := os.Stat(canon)
	if err != nil {
		return nil, fmt.Errorf("safepath: %s: %w", dir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("safepath: %s: not a directory", dir)
	}
	return &Root{dir: canon}, nil
}

// Dir returns the canonical base directory.
func (r *Root) Dir() string { return r.dir }

// Resolve maps name, a slash-separated path relative to the base, to the
// canonical path of an existing regular file under the base.
//
// Errors: ErrForbidden for traversal segments, absolute names, NUL bytes or a
// symlink leading outside the base; ErrNotFound for empty names, missing
// entries and anything that is not a regular file. Other stat failures are
// returned wrapped.
func (r *Root) Resolve(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	joined := filepath.Join(r.dir, filepath.FromSlash(name))
	if !r.contains(joined) {
		return "", ErrForbidden
	}
	canon, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("safepath: resolve %q: %w", name, err)
	}
	if !r.contains(canon) {
		return "", ErrForbidden
	}
	fi, err := os.Stat(canon)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("safepath: stat %q: %w", name, err)
	}
	if !fi.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return canon, nil
}

// Open opens canon, a path returned by Resolve, through an os.Root on the
// base directory, so a component swapped for an escaping symlink after
// Resolve cannot be followed out of the base.
func (r *Root) Open(canon string) (*os.File, error) {
	rel, err := filepath.Rel(r.dir, canon)
	if err != nil || !r.contains(canon) {
		return nil, ErrForbidden
	}
	f, err := os.OpenInRoot(r.dir, rel)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if _, rerr := r.Resolve(filepath.ToSlash(rel)); errors.Is(rerr, ErrForbidden) {
		return nil, ErrForbidden
	}
	return nil, fmt.Errorf("safepath: open %q: %w", rel, err)
}

// checkName rejects names that are unsafe before touching the filesystem.
func checkName(name string) error {
	if name == "" {
		return ErrNotFound
	}
	if strings.ContainsRune(name, 0) {
		return ErrForbidden
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) ||
		filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return ErrForbidden
	}
	for _, seg := range strings.FieldsFunc(name, isSeparator) {
		if seg == ".." {
			return ErrForbidden
		}
	}
	if strings.Trim(name, `/\.`) == "" {
		// "." or "./" names the base directory itself.
		return ErrNotFound
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, `\`) {
		// A trailing separator names a directory, never a file.
		return ErrNotFound
	}
	return nil
}

func isSeparator(r rune) bool { return r == '/' || r == '\\' }

func (r *Root) contains(p string) bool {
	rel, err := filepath.Rel(r.dir, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isNotDir reports ENOTDIR, returned when a path component is a regular file.
func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}
