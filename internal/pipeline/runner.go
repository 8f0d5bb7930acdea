package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"redfinetl/internal/ledger"
	"redfinetl/internal/logging"
	"redfinetl/internal/metrics"
)

// State is a run's position in PENDING → FETCHED → TRANSFORMED. FAILED is
// terminal.
type State string

const (
	StatePending     State = "PENDING"
	StateFetched     State = "FETCHED"
	StateTransformed State = "TRANSFORMED"
	StateFailed      State = "FAILED"
)

// Run tracks one pipeline execution.
type Run struct {
	ID    uuid.UUID
	Job   string
	State State

	Handoff   Handoff
	RawRows   int64
	RawCols   int
	CleanRows int64
	CleanCols int

	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Runner executes the fetch and transform steps and records each transition
// in the ledger and metrics.
type Runner struct {
	Job         string
	Fetcher     *Fetcher
	Transformer *Transformer

	// Ledger may be nil.
	Ledger ledger.Ledger

	// Now defaults to time.Now.
	Now func() time.Time

	// closers are released by Close.
	closers []func() error
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// NewRun starts a PENDING run with a fresh ID and records it.
func (r *Runner) NewRun(ctx context.Context) *Run {
	run := &Run{ID: uuid.New(), Job: r.Job, State: StatePending, StartedAt: r.now()}
	r.record(ctx, run)
	return run
}

// Run executes both steps for a new run. The returned Run is always non-nil
// and reflects how far the run got.
func (r *Runner) Run(ctx context.Context) (*Run, error) {
	run := r.NewRun(ctx)
	logging.L().Info("run started", zap.String("run_id", run.ID.String()), zap.String("job", r.Job))

	if err := r.Fetch(ctx, run); err != nil {
		return run, err
	}
	if err := r.Transform(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Fetch runs the fetch step and moves run to FETCHED.
func (r *Runner) Fetch(ctx context.Context, run *Run) error {
	if run.State != StatePending {
		return fmt.Errorf("run %s: fetch from state %s", run.ID, run.State)
	}
	start := time.Now()
	h, a, err := r.Fetcher.Fetch(ctx, run.ID.String())
	metrics.RecordStep(r.Job, "fetch", err, time.Since(start))
	if err != nil {
		return r.fail(ctx, run, "fetch", err)
	}

	metrics.RecordRows(r.Job, "raw", a.Rows)
	metrics.RecordUpload(r.Job, "landing", a.Bytes)
	run.Handoff = h
	run.RawRows, run.RawCols = a.Rows, a.Cols
	run.State = StateFetched
	r.record(ctx, run)
	return nil
}

// Transform runs the transform step on run.Handoff and moves run to
// TRANSFORMED. A run resumed from a handoff in another process may be
// PENDING or FETCHED.
func (r *Runner) Transform(ctx context.Context, run *Run) error {
	if run.State != StateFetched && run.State != StatePending {
		return fmt.Errorf("run %s: transform from state %s", run.ID, run.State)
	}
	start := time.Now()
	res, err := r.Transformer.Transform(ctx, run.ID.String(), run.Handoff)
	metrics.RecordStep(r.Job, "transform", err, time.Since(start))
	if err != nil {
		return r.fail(ctx, run, "transform", err)
	}

	metrics.RecordRows(r.Job, "clean", res.Rows)
	metrics.RecordRows(r.Job, "dropped", res.Dropped)
	metrics.RecordUpload(r.Job, "transformed", res.Bytes)
	run.CleanRows, run.CleanCols = res.Rows, res.Cols
	run.State = StateTransformed
	run.FinishedAt = r.now()
	metrics.RecordSuccess(r.Job, run.FinishedAt)
	r.record(ctx, run)

	logging.L().Info("run finished",
		zap.String("run_id", run.ID.String()),
		zap.Int64("raw_rows", run.RawRows),
		zap.Int64("clean_rows", run.CleanRows),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))
	return nil
}

// Resume builds a run for a handoff produced by an earlier fetch.
func (r *Runner) Resume(ctx context.Context, h Handoff) *Run {
	run := &Run{ID: uuid.New(), Job: r.Job, State: StateFetched, Handoff: h, StartedAt: r.now()}
	r.record(ctx, run)
	return run
}

func (r *Runner) fail(ctx context.Context, run *Run, step string, err error) error {
	run.State = StateFailed
	run.Err = err
	run.FinishedAt = r.now()
	r.record(ctx, run)
	logging.L().Error("run failed",
		zap.String("run_id", run.ID.String()), zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%s: %w", step, err)
}

// record upserts run into the ledger. Ledger failures are logged only.
func (r *Runner) record(ctx context.Context, run *Run) {
	if r.Ledger == nil {
		return
	}
	rec := ledger.Record{
		RunID:     run.ID.String(),
		Job:       run.Job,
		State:     string(run.State),
		Filename:  run.Handoff.Filename,
		RawRows:   run.RawRows,
		CleanRows: run.CleanRows,
		StartedAt: run.StartedAt,
		UpdatedAt: r.now(),
	}
	if run.Err != nil {
		rec.Error = run.Err.Error()
	}
	// A canceled run still gets its final state written.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := r.Ledger.Upsert(ctx, rec); err != nil {
		logging.L().Warn("ledger upsert failed", zap.String("run_id", rec.RunID), zap.Error(err))
	}
}

// Close releases the stores and ledger opened by New.
func (r *Runner) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	return err
}
