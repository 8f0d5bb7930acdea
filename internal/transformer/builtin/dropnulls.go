package builtin

import "redfinetl/internal/transformer"

// DropNulls removes any row that is null in one of Fields. An empty Fields
// list checks every column the step receives.
type DropNulls struct {
	Fields []string

	idx []int
}

func (d *DropNulls) Name() string { return "drop_nulls" }

func (d *DropNulls) Bind(columns []string) ([]string, error) {
	if len(d.Fields) == 0 {
		d.idx = make([]int, len(columns))
		for i := range columns {
			d.idx[i] = i
		}
		return columns, nil
	}
	idx, err := transformer.Indexes(columns, d.Fields)
	if err != nil {
		return nil, err
	}
	d.idx = idx
	return columns, nil
}

func (d *DropNulls) Apply(r *transformer.Row) (bool, error) {
	for _, ix := range d.idx {
		if r.V[ix] == nil {
			return false, nil
		}
	}
	return true, nil
}
