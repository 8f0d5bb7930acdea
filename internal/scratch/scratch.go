// Package scratch manages the run-local temporary area the fetch and transform
// steps hand files through.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
)

// ErrLowSpace is returned by Check when the scratch filesystem has less free
// space than configured.
var ErrLowSpace = errors.New("scratch: not enough free space")

// ErrUnsupported is returned by FreeBytes on platforms without a free-space
// query.
var ErrUnsupported = errors.New("scratch: free space query unsupported on this platform")

// Dir is a scratch directory.
type Dir struct {
	root    string
	minFree uint64
}

// New creates root if needed. minFree of zero disables Check.
func New(root string, minFree uint64) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("scratch: dir must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	return &Dir{root: root, minFree: minFree}, nil
}

// Root returns the directory path.
func (d *Dir) Root() string { return d.root }

// Path returns the path of name inside the directory. name must be a bare
// file name.
func (d *Dir) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("scratch: invalid file name %q", name)
	}
	return filepath.Join(d.root, name), nil
}

// Check fails with ErrLowSpace when free space is below the configured
// minimum. Platforms without a free-space query pass.
func (d *Dir) Check() error {
	if d.minFree == 0 {
		return nil
	}
	free, err := FreeBytes(d.root)
	if errors.Is(err, ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scratch: %w", err)
	}
	if free < d.minFree {
		return fmt.Errorf("%w: %s has %d bytes free, need %d", ErrLowSpace, d.root, free, d.minFree)
	}
	return nil
}

// Create checks free space and creates name for writing, truncating any
// previous file.
func (d *Dir) Create(name string) (*os.File, error) {
	p, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	if err := d.Check(); err != nil {
		return nil, err
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	return f, nil
}

// Remove deletes every path, ignoring ones that are already gone. All
// failures are returned together.
func Remove(paths ...string) error {
	var err error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if rerr := os.Remove(p); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = multierr.Append(err, fmt.Errorf("scratch: %w", rerr))
		}
	}
	return err
}
