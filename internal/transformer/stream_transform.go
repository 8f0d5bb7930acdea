package transformer

import "context"

// Stats counts rows through a TransformLoopRows call.
type Stats struct {
	In      int64
	Out     int64
	Dropped int64
}

// TransformLoopRows applies plan to every row from in and forwards kept rows
// to out. Dropped rows are freed. The first step error aborts the loop; the
// failing row is freed and the error returned. The caller closes out.
//
// The loop stops early with ctx.Err() when ctx is canceled; producers must
// select on the same ctx so they never block on a reader that has gone away.
func TransformLoopRows(
	ctx context.Context,
	plan *Plan,
	in <-chan *Row,
	out chan<- *Row,
	onDrop func(r *Row),
) (Stats, error) {
	var st Stats
	for {
		var r *Row
		var ok bool
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case r, ok = <-in:
			if !ok {
				return st, nil
			}
		}
		st.In++

		keep, err := plan.Apply(r)
		if err != nil {
			r.Free()
			return st, err
		}
		if !keep {
			st.Dropped++
			if onDrop != nil {
				onDrop(r)
			}
			r.Free()
			continue
		}

		select {
		case out <- r:
			st.Out++
		case <-ctx.Done():
			r.Free()
			return st, ctx.Err()
		}
	}
}
