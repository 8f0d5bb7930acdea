// Package csv provides streaming delimited-text reading and CSV writing for
// the Redfin pipeline. Rows are emitted as pooled *transformer.Row values with
// null cells set to nil; the whole file is never buffered.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"redfinetl/internal/transformer"
)

var (
	// ErrNoHeader is returned for input without a header row.
	ErrNoHeader = errors.New("csv: input has no header row")

	// ErrSchemaDrift is returned when a data row's width differs from the
	// header's, or the header repeats a column name.
	ErrSchemaDrift = errors.New("csv: schema drift")
)

// Options configures a Reader. Zero values give a comma-separated reader
// with DefaultNullMarkers.
type Options struct {
	// Comma is the field delimiter. When zero, ',' is used.
	Comma rune

	// LazyQuotes tolerates bare quotes inside unquoted fields.
	LazyQuotes bool

	// TrimSpace trims leading/trailing spaces from every cell.
	TrimSpace bool

	// NullMarkers replaces DefaultNullMarkers when non-nil. The empty string
	// is always null.
	NullMarkers []string
}

// Reader reads a header row followed by data rows.
type Reader struct {
	cr     *csv.Reader
	header []string
	nulls  nullSet
	trim   bool
	rows   int64
}

// NewReader wraps r and consumes the header row.
func NewReader(r io.Reader, opt Options) (*Reader, error) {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.ReuseRecord = true
	// Width is enforced after read so drift gets a descriptive error.
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	header := StripHeaderBOM(append([]string(nil), hdr...))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		header[i] = h
		if _, dup := seen[h]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrSchemaDrift, h)
		}
		seen[h] = struct{}{}
	}

	return &Reader{
		cr:     cr,
		header: header,
		nulls:  newNullSet(opt.NullMarkers),
		trim:   opt.TrimSpace,
	}, nil
}

// Header returns the column names in file order.
func (r *Reader) Header() []string { return r.header }

// Rows returns the number of data rows read so far.
func (r *Reader) Rows() int64 { return r.rows }

// Read returns the next data row or io.EOF. The caller owns the row and must
// Free it.
func (r *Reader) Read() (*transformer.Row, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv: %w", err)
	}
	line, _ := r.cr.FieldPos(0)
	if len(rec) != len(r.header) {
		return nil, fmt.Errorf("%w: line %d has %d fields, header has %d", ErrSchemaDrift, line, len(rec), len(r.header))
	}

	row := transformer.GetRow(len(rec))
	row.Line = int64(line)
	for i, v := range rec {
		if r.trim {
			v = strings.TrimSpace(v)
		}
		if r.nulls.has(v) {
			continue
		}
		row.V[i] = v
	}
	r.rows++
	return row, nil
}

// StreamRows sends every remaining row to out until EOF, an error, or ctx
// cancellation. It returns the number of rows sent. The caller closes out.
func (r *Reader) StreamRows(ctx context.Context, out chan<- *transformer.Row) (int64, error) {
	var sent int64
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		select {
		case out <- row:
			sent++
		case <-ctx.Done():
			row.Free()
			return sent, ctx.Err()
		}
	}
}
