package transformer

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingColumn is returned by Compile when a step references a column
	// the input does not have.
	ErrMissingColumn = errors.New("missing column")

	// ErrInvalidValue is returned by Plan.Apply when a cell cannot be
	// converted by a step. It aborts the whole transform.
	ErrInvalidValue = errors.New("invalid value")
)

// Step is one stage of the cleaning chain.
//
// Bind is called once with the columns the step receives and returns the
// columns it produces; it resolves names to positions and keeps them. Apply
// is then called per row and mutates r in place. keep=false drops the row.
type Step interface {
	Name() string
	Bind(columns []string) ([]string, error)
	Apply(r *Row) (keep bool, err error)
}

// Plan is a bound, ordered chain of steps.
type Plan struct {
	steps []Step
	in    []string
	out   []string
}

// Compile binds steps in order against columns. Each step sees the columns
// produced by the previous one.
func Compile(columns []string, steps ...Step) (*Plan, error) {
	cur := append([]string(nil), columns...)
	for _, s := range steps {
		next, err := s.Bind(cur)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.Name(), err)
		}
		cur = next
	}
	return &Plan{
		steps: steps,
		in:    append([]string(nil), columns...),
		out:   cur,
	}, nil
}

// Input returns the columns the plan was compiled against.
func (p *Plan) Input() []string { return p.in }

// Output returns the columns of rows leaving the plan.
func (p *Plan) Output() []string { return p.out }

// Apply runs every step over r. When a step drops the row the remaining steps
// are skipped and keep is false. Errors carry the row's source line.
func (p *Plan) Apply(r *Row) (keep bool, err error) {
	if len(r.V) != len(p.in) {
		return false, fmt.Errorf("line %d: row has %d cells, plan expects %d: %w", r.Line, len(r.V), len(p.in), ErrInvalidValue)
	}
	for _, s := range p.steps {
		keep, err = s.Apply(r)
		if err != nil {
			return false, fmt.Errorf("line %d: %s: %w", r.Line, s.Name(), err)
		}
		if !keep {
			return false, nil
		}
	}
	return true, nil
}

// Index returns the position of name in columns, or an error wrapping
// ErrMissingColumn.
func Index(columns []string, name string) (int, error) {
	for i, c := range columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w %q", ErrMissingColumn, name)
}

// Indexes resolves every name in names against columns.
func Indexes(columns []string, names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		ix, err := Index(columns, n)
		if err != nil {
			return nil, err
		}
		out[i] = ix
	}
	return out, nil
}
