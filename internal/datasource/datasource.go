// Package datasource defines the byte-stream abstraction the pipeline steps
// read from: the remote Redfin extract (httpds) and scratch files (file).
package datasource

import (
	"context"
	"io"
)

// Source opens a fresh stream of the underlying data. Callers must close the
// returned reader.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ContextReader wraps rc so that reads fail with ctx.Err() once ctx is done.
// The underlying reader is closed by Close as usual.
func ContextReader(ctx context.Context, rc io.ReadCloser) io.ReadCloser {
	return &ctxReader{ctx: ctx, rc: rc}
}

type ctxReader struct {
	ctx context.Context
	rc  io.ReadCloser
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.rc.Read(p)
}

func (r *ctxReader) Close() error { return r.rc.Close() }
