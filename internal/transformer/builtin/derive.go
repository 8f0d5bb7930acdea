package builtin

import (
	"fmt"
	"time"

	"redfinetl/internal/transformer"
)

// Output column suffixes for the derived period columns.
const (
	YearSuffix  = "_in_years"
	MonthSuffix = "_in_months"
)

// DeriveYear appends <field>_in_years holding the calendar year of each
// parsed date in Fields.
type DeriveYear struct {
	Fields []string

	idx []int
}

func (d *DeriveYear) Name() string { return "derive_year" }

func (d *DeriveYear) Bind(columns []string) ([]string, error) {
	idx, err := bindDerived(columns, d.Fields, YearSuffix)
	if err != nil {
		return nil, err
	}
	d.idx = idx
	return appendSuffixed(columns, d.Fields, YearSuffix), nil
}

func (d *DeriveYear) Apply(r *transformer.Row) (bool, error) {
	for n, ix := range d.idx {
		t, ok, err := dateCell(r.V[ix], d.Fields[n])
		if err != nil {
			return false, err
		}
		if !ok {
			r.V = append(r.V, nil)
			continue
		}
		r.V = append(r.V, t.Year())
	}
	return true, nil
}

// DeriveMonthName appends <field>_in_months holding the full English month
// name ("January") of each parsed date in Fields.
type DeriveMonthName struct {
	Fields []string

	idx []int
}

func (d *DeriveMonthName) Name() string { return "derive_month_name" }

func (d *DeriveMonthName) Bind(columns []string) ([]string, error) {
	idx, err := bindDerived(columns, d.Fields, MonthSuffix)
	if err != nil {
		return nil, err
	}
	d.idx = idx
	return appendSuffixed(columns, d.Fields, MonthSuffix), nil
}

func (d *DeriveMonthName) Apply(r *transformer.Row) (bool, error) {
	for n, ix := range d.idx {
		t, ok, err := dateCell(r.V[ix], d.Fields[n])
		if err != nil {
			return false, err
		}
		if !ok {
			r.V = append(r.V, nil)
			continue
		}
		r.V = append(r.V, t.Month().String())
	}
	return true, nil
}

func bindDerived(columns, fields []string, suffix string) ([]int, error) {
	idx, err := transformer.Indexes(columns, fields)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if _, err := transformer.Index(columns, f+suffix); err == nil {
			return nil, fmt.Errorf("column %q already exists", f+suffix)
		}
	}
	return idx, nil
}

func appendSuffixed(columns, fields []string, suffix string) []string {
	out := make([]string, 0, len(columns)+len(fields))
	out = append(out, columns...)
	for _, f := range fields {
		out = append(out, f+suffix)
	}
	return out
}

// dateCell returns the time in v. ok is false for null.
func dateCell(v any, field string) (t time.Time, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return x, true, nil
	default:
		return time.Time{}, false, fmt.Errorf("%s: want a parsed date, got %T: %w", field, v, transformer.ErrInvalidValue)
	}
}
