package pipeline

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"redfinetl/internal/config"
	"redfinetl/internal/datasource/httpds"
	"redfinetl/internal/ledger"
	"redfinetl/internal/logging"
	"redfinetl/internal/objectstore"
	"redfinetl/internal/scratch"
)

// New wires a Runner from configuration. Object store and ledger backends
// must be linked in by the caller (objectstore/all, ledger/all). A ledger
// that cannot be opened is logged and disabled.
func New(ctx context.Context, p config.Pipeline) (*Runner, error) {
	sd, err := scratch.New(p.Scratch.Dir, p.Scratch.MinFreeBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScratch, err)
	}

	comma, _ := utf8.DecodeRuneInString(p.Source.Delimiter)
	if comma == utf8.RuneError {
		return nil, fmt.Errorf("invalid source.delimiter %q", p.Source.Delimiter)
	}

	client := httpds.NewClient(httpds.Config{
		Timeout:            p.Source.HTTP.Timeout,
		MaxRetries:         p.Source.HTTP.MaxRetries,
		InitialBackoff:     p.Source.HTTP.InitialBackoff,
		MaxBackoff:         p.Source.HTTP.MaxBackoff,
		InsecureSkipVerify: p.Source.HTTP.InsecureSkipVerify,
		UserAgent:          p.Source.HTTP.UserAgent,
	})
	src := httpds.NewSource(client, p.Source.URL, httpds.Compression(p.Source.Compression))

	r := &Runner{Job: p.Job}

	landingCfg := objectstore.FromPipeline(p.Landing, p.Credentials)
	landing, err := objectstore.New(ctx, landingCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: landing: %w", ErrStore, err)
	}
	r.closers = append(r.closers, landing.Close)

	transformedCfg := objectstore.FromPipeline(p.Transformed, p.Credentials)
	transformed, err := objectstore.New(ctx, transformedCfg)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("%w: transformed: %w", ErrStore, err)
	}
	r.closers = append(r.closers, transformed.Close)

	led, err := ledger.New(ctx, ledger.Config{Kind: p.Ledger.Kind, DSN: p.Ledger.DSN, Table: p.Ledger.Table})
	if err != nil {
		logging.L().Warn("run ledger disabled", zap.String("kind", p.Ledger.Kind), zap.Error(err))
		led = ledger.Nop{}
	}
	r.Ledger = led
	r.closers = append(r.closers, led.Close)

	r.Fetcher = &Fetcher{
		Source:        src,
		Comma:         comma,
		Scratch:       sd,
		Landing:       landing,
		LandingConfig: landingCfg,
		Buffer:        p.Runtime.ChannelBuffer,
	}
	r.Transformer = &Transformer{
		Scratch:           sd,
		Transformed:       transformed,
		TransformedConfig: transformedCfg,
		Buffer:            p.Runtime.ChannelBuffer,
		KeepOnFailure:     p.Scratch.KeepOnFailure,
	}
	return r, nil
}
