package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"redfinetl/internal/transformer"
)

// Writer writes a header and rows as comma-separated CSV. Cells are rendered
// with transformer.FormatCell, so nulls become empty fields.
type Writer struct {
	cw   *csv.Writer
	rec  []string
	rows int64
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{cw: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (w *Writer) WriteHeader(columns []string) error {
	if err := w.cw.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	return nil
}

// Write writes one row. It does not free r.
func (w *Writer) Write(r *transformer.Row) error {
	w.rec = w.rec[:0]
	for _, v := range r.V {
		w.rec = append(w.rec, transformer.FormatCell(v))
	}
	if err := w.cw.Write(w.rec); err != nil {
		return fmt.Errorf("write csv line %d: %w", r.Line, err)
	}
	w.rows++
	return nil
}

// WriteRows drains in, writing and freeing every row. It stops on the first
// write error or when ctx is canceled.
func (w *Writer) WriteRows(ctx context.Context, in <-chan *transformer.Row) (int64, error) {
	var n int64
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case r, ok := <-in:
			if !ok {
				return n, nil
			}
			err := w.Write(r)
			r.Free()
			if err != nil {
				return n, err
			}
			n++
		}
	}
}

// Rows returns the number of data rows written.
func (w *Writer) Rows() int64 { return w.rows }

// Flush flushes buffered output and reports any earlier write error.
func (w *Writer) Flush() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
