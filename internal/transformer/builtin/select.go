package builtin

import "redfinetl/internal/transformer"

// Select projects rows onto Fields, in that order. Every field must exist in
// the input.
type Select struct {
	Fields []string

	idx []int
}

func (s *Select) Name() string { return "select" }

func (s *Select) Bind(columns []string) ([]string, error) {
	idx, err := transformer.Indexes(columns, s.Fields)
	if err != nil {
		return nil, err
	}
	s.idx = idx
	return append([]string(nil), s.Fields...), nil
}

func (s *Select) Apply(r *transformer.Row) (bool, error) {
	r.Project(s.idx)
	return true, nil
}
