// Package transformer provides the streaming row model and the step plan that
// turns raw Redfin rows into cleaned rows. This file defines a pooled Row type
// shared by parser → transformer → writer to keep heap churn low on the
// multi-GB city tracker.
package transformer

import "sync"

// Row is a pooled positional row.
//
// Contract:
//   - A cell is nil (null), a string (raw value), or a typed value set by a
//     step (time.Time, int).
//   - The stage that finishes with a row (writer or a dropping step) must call
//     r.Free() to return it to the pool.
//   - Do not retain references to r or r.V beyond the owning stage.
type Row struct {
	// Line is the 1-based source line the row started on; 0 when unknown.
	Line int64
	V    []any

	spare []any
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length colCount. All cells are nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool. The caller must not use r after Free().
func (r *Row) Free() {
	rowPool.Put(r)
}

// Project rearranges r.V so that the new cell i is the old cell idx[i].
// Indexes may repeat or be omitted. The previous backing array is kept as a
// spare so steady-state projection does not allocate.
func (r *Row) Project(idx []int) {
	next := r.spare[:0]
	for _, i := range idx {
		next = append(next, r.V[i])
	}
	old := r.V
	for i := range old {
		old[i] = nil
	}
	r.V, r.spare = next, old[:0]
}
