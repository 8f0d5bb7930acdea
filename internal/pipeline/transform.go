package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/xxh3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"redfinetl/internal/datasource/file"
	"redfinetl/internal/logging"
	"redfinetl/internal/objectstore"
	"redfinetl/internal/parser/csv"
	"redfinetl/internal/scratch"
	"redfinetl/internal/transformer"
	"redfinetl/internal/transformer/builtin"
)

// Transformer cleans a raw artifact and publishes the result.
type Transformer struct {
	Scratch     *scratch.Dir
	Transformed objectstore.Store

	// TransformedConfig is used to render locations in logs.
	TransformedConfig objectstore.Config

	Buffer int

	// KeepOnFailure leaves the raw scratch file behind when the step fails.
	KeepOnFailure bool
}

// CleanResult extends Artifact with the cleaning chain's row accounting.
type CleanResult struct {
	Artifact
	In      int64
	Dropped int64
}

// Transform runs the cleaning chain over h.LocalPath, writes
// cleaned_<filename> to scratch and uploads it. The upload happens only after
// every row has been written. Both scratch files are removed on success; on
// failure the cleaned file is removed and the raw file too unless
// KeepOnFailure is set.
func (t *Transformer) Transform(ctx context.Context, runID string, h Handoff) (res CleanResult, err error) {
	if verr := t.checkHandoff(h); verr != nil {
		return CleanResult{}, fmt.Errorf("%w: %w", ErrHandoff, verr)
	}
	log := logging.L().With(zap.String("run_id", runID), zap.String("step", "transform"), zap.String("file", h.Filename))

	name := CleanedFilename(h.Filename)
	path, err := t.Scratch.Path(name)
	if err != nil {
		return CleanResult{}, fmt.Errorf("%w: %w", ErrScratch, err)
	}

	defer func() {
		if err == nil {
			return
		}
		err = multierr.Append(err, scratch.Remove(path))
		if t.KeepOnFailure {
			log.Warn("keeping raw scratch file for retry", zap.String("path", h.LocalPath))
			return
		}
		err = multierr.Append(err, scratch.Remove(h.LocalPath))
	}()

	in, err := file.NewLocal(h.LocalPath).Open(ctx)
	if err != nil {
		return CleanResult{}, fmt.Errorf("%w: raw file: %w", ErrScratch, err)
	}
	out, err := t.Scratch.Create(name)
	if err != nil {
		_ = in.Close()
		return CleanResult{}, fmt.Errorf("%w: %w", ErrScratch, err)
	}

	sum := xxh3.New()
	st, cols, err := cleanRows(ctx, in, io.MultiWriter(out, sum), t.Buffer)
	err = multierr.Combine(err, closeAs(in, ErrScratch), closeAs(out, ErrScratch))
	if err != nil {
		return CleanResult{}, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return CleanResult{}, fmt.Errorf("%w: %w", ErrScratch, err)
	}
	res = CleanResult{
		Artifact: Artifact{
			Key:      name,
			Location: t.TransformedConfig.Location(name),
			Rows:     st.Out,
			Cols:     cols,
			Bytes:    fi.Size(),
			Checksum: fmt.Sprintf("%016x", sum.Sum64()),
		},
		In:      st.In,
		Dropped: st.Dropped,
	}
	log.Info("dataset cleaned",
		zap.Int64("rows", st.Out), zap.Int("cols", cols), zap.Int64("dropped", st.Dropped))

	if err := t.Transformed.Put(ctx, name, path, artifactMeta(res.Artifact, runID)); err != nil {
		return CleanResult{}, fmt.Errorf("%w: transformed %s: %w", ErrStore, res.Location, err)
	}
	log.Info("uploaded to transformed store", zap.String("location", res.Location))

	// The artifact is published; a leftover scratch file is not a failure.
	if rerr := scratch.Remove(path, h.LocalPath); rerr != nil {
		log.Warn("scratch cleanup", zap.Error(rerr))
	}
	return res, nil
}

// checkHandoff accepts only a record naming a raw artifact that sits in this
// step's scratch directory under its own filename.
func (t *Transformer) checkHandoff(h Handoff) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if !IsRawFilename(h.Filename) {
		return fmt.Errorf("filename %q is not a raw artifact name", h.Filename)
	}
	if filepath.Base(h.LocalPath) != h.Filename {
		return fmt.Errorf("local_path %q does not end in filename %q", h.LocalPath, h.Filename)
	}
	want, err := t.Scratch.Path(h.Filename)
	if err != nil {
		return err
	}
	if !samePath(want, h.LocalPath) {
		return fmt.Errorf("local_path %q is outside scratch dir %q", h.LocalPath, t.Scratch.Root())
	}
	return nil
}

func samePath(a, b string) bool {
	aa, aerr := filepath.Abs(a)
	bb, berr := filepath.Abs(b)
	if aerr != nil || berr != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

// cleanRows streams src through the cleaning plan into dst. Reading,
// transforming and writing run as three goroutines joined by bounded
// channels.
func cleanRows(ctx context.Context, src io.Reader, dst io.Writer, buffer int) (transformer.Stats, int, error) {
	r, err := csv.NewReader(src, csv.Options{LazyQuotes: true})
	if err != nil {
		return transformer.Stats{}, 0, fmt.Errorf("%w: %w", ErrTransform, err)
	}
	plan, err := builtin.CleaningPlan(r.Header())
	if err != nil {
		return transformer.Stats{}, 0, fmt.Errorf("%w: %w", ErrTransform, err)
	}
	w := csv.NewWriter(dst)
	if err := w.WriteHeader(plan.Output()); err != nil {
		return transformer.Stats{}, 0, fmt.Errorf("%w: %w", ErrScratch, err)
	}

	raw := make(chan *transformer.Row, buffer)
	clean := make(chan *transformer.Row, buffer)
	var st transformer.Stats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(raw)
		if _, err := r.StreamRows(gctx, raw); err != nil {
			return fmt.Errorf("%w: %w", ErrTransform, err)
		}
		return nil
	})
	g.Go(func() error {
		defer close(clean)
		var err error
		st, err = transformer.TransformLoopRows(gctx, plan, raw, clean, nil)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransform, err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := w.WriteRows(gctx, clean); err != nil {
			return fmt.Errorf("%w: %w", ErrScratch, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return st, 0, err
	}
	if err := w.Flush(); err != nil {
		return st, 0, fmt.Errorf("%w: %w", ErrScratch, err)
	}
	return st, len(plan.Output()), nil
}
