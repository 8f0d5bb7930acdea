// Package file implements a local filesystem-backed data source. The transform
// step uses it to re-read the raw CSV the fetch step left in scratch.
package file

import (
	"context"
	"fmt"
	"io"
	"os"

	"redfinetl/internal/datasource"
)

// Local opens one file from the local disk.
type Local struct{ path string }

var _ datasource.Source = (*Local)(nil)

// NewLocal returns a Local bound to path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Open opens the file for reading. A canceled ctx short-circuits before the
// filesystem is touched, and reads fail once ctx is done. Filesystem errors
// are wrapped with the path and keep errors.Is(err, os.ErrNotExist) working.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", l.path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: is a directory", l.path)
	}
	return datasource.ContextReader(ctx, f), nil
}
