// Package pipeline runs the two Redfin steps: Fetcher downloads the market
// tracker into scratch and the landing zone, Transformer cleans it into the
// transformed store. Runner chains them and tracks the run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"redfinetl/internal/datasource"
	"redfinetl/internal/handoff"
	"redfinetl/internal/logging"
	"redfinetl/internal/objectstore"
	"redfinetl/internal/parser/csv"
	"redfinetl/internal/scratch"
	"redfinetl/internal/transformer"
)

// Handoff is what the fetch step passes to the transform step.
type Handoff = handoff.Record

// Artifact describes one file written to scratch and uploaded.
type Artifact struct {
	Key      string
	Location string
	Rows     int64
	Cols     int
	Bytes    int64
	Checksum string
}

// Fetcher downloads the source and stages it as CSV.
type Fetcher struct {
	Source  datasource.Source
	Comma   rune
	Scratch *scratch.Dir
	Landing objectstore.Store

	// LandingConfig is used to render locations in logs.
	LandingConfig objectstore.Config

	// Buffer is the row channel capacity between parse and write.
	Buffer int

	// Now defaults to time.Now.
	Now func() time.Time
}

func (f *Fetcher) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Fetch downloads the dataset, writes it to scratch as CSV, uploads it to the
// landing zone and returns the handoff. On failure the scratch file is
// removed and no handoff is returned.
func (f *Fetcher) Fetch(ctx context.Context, runID string) (h Handoff, a Artifact, err error) {
	log := logging.L().With(zap.String("run_id", runID), zap.String("step", "fetch"))

	name := RawFilename(f.now())
	path, err := f.Scratch.Path(name)
	if err != nil {
		return Handoff{}, Artifact{}, fmt.Errorf("%w: %w", ErrScratch, err)
	}

	defer func() {
		if err != nil {
			err = multierr.Append(err, scratch.Remove(path))
		}
	}()

	out, err := f.Scratch.Create(name)
	if err != nil {
		return Handoff{}, Artifact{}, fmt.Errorf("%w: %w", ErrScratch, err)
	}

	log.Info("downloading", zap.String("file", name))
	body, err := f.Source.Open(ctx)
	if err != nil {
		_ = out.Close()
		return Handoff{}, Artifact{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	sum := xxh3.New()
	rows, cols, err := copyRows(ctx, body, csv.Options{Comma: f.Comma, LazyQuotes: true}, io.MultiWriter(out, sum), f.Buffer)
	err = multierr.Combine(err, closeAs(body, ErrFetch), closeAs(out, ErrScratch))
	if err != nil {
		return Handoff{}, Artifact{}, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return Handoff{}, Artifact{}, fmt.Errorf("%w: %w", ErrScratch, err)
	}
	a = Artifact{
		Key:      name,
		Location: f.LandingConfig.Location(name),
		Rows:     rows,
		Cols:     cols,
		Bytes:    st.Size(),
		Checksum: fmt.Sprintf("%016x", sum.Sum64()),
	}
	log.Info("dataset downloaded", zap.Int64("rows", rows), zap.Int("cols", cols), zap.Int64("bytes", a.Bytes))

	if err := f.Landing.Put(ctx, name, path, artifactMeta(a, runID)); err != nil {
		return Handoff{}, Artifact{}, fmt.Errorf("%w: landing %s: %w", ErrStore, a.Location, err)
	}
	log.Info("uploaded to landing zone", zap.String("location", a.Location))

	return Handoff{Filename: name, LocalPath: path}, a, nil
}

// copyRows parses delimited text from src and writes it to dst as CSV. The
// parser and writer run concurrently over a bounded channel; either failing
// stops the other.
func copyRows(ctx context.Context, src io.Reader, opt csv.Options, dst io.Writer, buffer int) (int64, int, error) {
	r, err := csv.NewReader(src, opt)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	w := csv.NewWriter(dst)
	if err := w.WriteHeader(r.Header()); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrScratch, err)
	}

	rows := make(chan *transformer.Row, buffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rows)
		if _, err := r.StreamRows(gctx, rows); err != nil {
			return fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := w.WriteRows(gctx, rows); err != nil {
			return fmt.Errorf("%w: %w", ErrScratch, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrScratch, err)
	}
	return w.Rows(), len(r.Header()), nil
}

func closeAs(c io.Closer, kind error) error {
	if err := c.Close(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}

func artifactMeta(a Artifact, runID string) objectstore.Meta {
	return objectstore.Meta{
		objectstore.MetaChecksum: a.Checksum,
		objectstore.MetaRows:     fmt.Sprint(a.Rows),
		objectstore.MetaColumns:  fmt.Sprint(a.Cols),
		objectstore.MetaRunID:    runID,
	}
}
