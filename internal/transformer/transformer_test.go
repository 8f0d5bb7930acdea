package transformer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

// upper is a tiny test step that uppercases one column and drops rows whose
// value is "drop".
type upper struct {
	field string
	ix    int
}

func (u *upper) Name() string { return "upper" }

func (u *upper) Bind(cols []string) ([]string, error) {
	ix, err := Index(cols, u.field)
	if err != nil {
		return nil, err
	}
	u.ix = ix
	return cols, nil
}

func (u *upper) Apply(r *Row) (bool, error) {
	s, _ := r.V[u.ix].(string)
	switch s {
	case "drop":
		return false, nil
	case "boom":
		return false, fmt.Errorf("boom: %w", ErrInvalidValue)
	}
	r.V[u.ix] = "X" + s
	return true, nil
}

func rowOf(line int64, vals ...any) *Row {
	r := GetRow(len(vals))
	r.Line = line
	copy(r.V, vals)
	return r
}

func TestCompile_MissingColumn(t *testing.T) {
	t.Parallel()

	_, err := Compile([]string{"a", "b"}, &upper{field: "c"})
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("err=%v; want ErrMissingColumn", err)
	}
}

func TestPlan_Apply(t *testing.T) {
	t.Parallel()

	plan, err := Compile([]string{"a", "b"}, &upper{field: "b"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !reflect.DeepEqual(plan.Output(), []string{"a", "b"}) {
		t.Fatalf("Output=%v", plan.Output())
	}

	tests := []struct {
		name     string
		row      *Row
		wantKeep bool
		wantErr  bool
		want     []any
	}{
		{"kept", rowOf(2, "1", "y"), true, false, []any{"1", "Xy"}},
		{"dropped", rowOf(3, "1", "drop"), false, false, nil},
		{"error", rowOf(4, "1", "boom"), false, true, nil},
		{"width", rowOf(5, "1"), false, true, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			keep, err := plan.Apply(tt.row)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v; wantErr=%v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidValue) {
				t.Fatalf("err=%v; want ErrInvalidValue", err)
			}
			if keep != tt.wantKeep {
				t.Fatalf("keep=%v; want %v", keep, tt.wantKeep)
			}
			if tt.want != nil && !reflect.DeepEqual(tt.row.V, tt.want) {
				t.Fatalf("row=%v; want %v", tt.row.V, tt.want)
			}
		})
	}
}

func TestRow_Project(t *testing.T) {
	t.Parallel()

	r := rowOf(1, "a", "b", "c")
	r.Project([]int{2, 0})
	if !reflect.DeepEqual(r.V, []any{"c", "a"}) {
		t.Fatalf("after first project: %v", r.V)
	}
	r.Project([]int{1, 1, 0})
	if !reflect.DeepEqual(r.V, []any{"a", "a", "c"}) {
		t.Fatalf("after second project: %v", r.V)
	}
}

func TestGetRow_ResetsCells(t *testing.T) {
	t.Parallel()

	r := rowOf(9, "x", "y")
	r.Free()

	r = GetRow(3)
	defer r.Free()
	if len(r.V) != 3 || r.Line != 0 {
		t.Fatalf("GetRow(3) = len %d line %d", len(r.V), r.Line)
	}
	for i, v := range r.V {
		if v != nil {
			t.Fatalf("cell %d = %v; want nil", i, v)
		}
	}
}

func TestFormatCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"Los Angeles CA", "Los Angeles CA"},
		{time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), "2021-01-01"},
		{time.Date(2021, 1, 1, 13, 4, 5, 0, time.UTC), "2021-01-01 13:04:05"},
		{2021, "2021"},
		{int64(-7), "-7"},
		{0.25, "0.25"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := FormatCell(tt.in); got != tt.want {
			t.Errorf("FormatCell(%#v)=%q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestTransformLoopRows(t *testing.T) {
	t.Parallel()

	plan, err := Compile([]string{"v"}, &upper{field: "v"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	in := make(chan *Row, 4)
	out := make(chan *Row, 4)
	in <- rowOf(2, "a")
	in <- rowOf(3, "drop")
	in <- rowOf(4, "b")
	close(in)

	var dropped []int64
	st, err := TransformLoopRows(context.Background(), plan, in, out, func(r *Row) {
		dropped = append(dropped, r.Line)
	})
	if err != nil {
		t.Fatalf("TransformLoopRows: %v", err)
	}
	close(out)

	if st != (Stats{In: 3, Out: 2, Dropped: 1}) {
		t.Fatalf("stats=%+v", st)
	}
	if !reflect.DeepEqual(dropped, []int64{3}) {
		t.Fatalf("dropped lines=%v; want [3]", dropped)
	}
	var got []any
	for r := range out {
		got = append(got, r.V[0])
		r.Free()
	}
	if !reflect.DeepEqual(got, []any{"Xa", "Xb"}) {
		t.Fatalf("out=%v", got)
	}
}

func TestTransformLoopRows_ErrorAborts(t *testing.T) {
	t.Parallel()

	plan, _ := Compile([]string{"v"}, &upper{field: "v"})

	in := make(chan *Row, 3)
	out := make(chan *Row, 3)
	in <- rowOf(2, "a")
	in <- rowOf(3, "boom")
	in <- rowOf(4, "c")
	close(in)

	st, err := TransformLoopRows(context.Background(), plan, in, out, nil)
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("err=%v; want ErrInvalidValue", err)
	}
	if st.In != 2 || st.Out != 1 {
		t.Fatalf("stats=%+v; want In=2 Out=1", st)
	}
}

func TestTransformLoopRows_Canceled(t *testing.T) {
	t.Parallel()

	plan, _ := Compile([]string{"v"}, &upper{field: "v"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := make(chan *Row) // never written
	out := make(chan *Row)

	if _, err := TransformLoopRows(ctx, plan, in, out, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v; want context.Canceled", err)
	}
}
