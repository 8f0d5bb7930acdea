// Command redfinetl runs the Redfin market-tracker pipeline.
//
// Usage:
//
//	redfinetl run       [flags]                 fetch and transform in one process
//	redfinetl fetch     [flags] [-handoff-out f] download and stage; emit the handoff
//	redfinetl transform [flags] [-handoff f]     clean a staged file named by a handoff
//	redfinetl validate  [flags] [-print] [-probe]
//
// Common flags: -config, -env-file, -v, -metrics-backend, -pushgateway-url.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"redfinetl/internal/config"
	"redfinetl/internal/datasource/httpds"
	"redfinetl/internal/handoff"
	"redfinetl/internal/ledger"
	"redfinetl/internal/logging"
	"redfinetl/internal/metrics"
	"redfinetl/internal/metrics/datadog"
	"redfinetl/internal/metrics/prompush"
	"redfinetl/internal/objectstore"
	"redfinetl/internal/parser/csv"
	"redfinetl/internal/pipeline"
	"redfinetl/internal/transformer/builtin"

	// Every backend is linked in; config picks one.
	_ "redfinetl/internal/ledger/all"
	_ "redfinetl/internal/objectstore/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	cfgPath        string
	envFile        string
	verbose        bool
	metricsBackend string
	pushGatewayURL string

	handoffPath string
	print       bool
	probe       bool
	runID       string
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.cfgPath, "config", "", "pipeline config YAML path (defaults and REDFINETL_* env apply without one)")
	fs.StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before the config; missing is fine")
	fs.BoolVar(&o.verbose, "v", false, "enable debug logs")
	fs.StringVar(&o.metricsBackend, "metrics-backend", "", "metrics backend (pushgateway, datadog, none); overrides metrics.backend")
	fs.StringVar(&o.pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL; overrides metrics.pushgateway_url")
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: redfinetl <run|fetch|transform|validate|status> [flags]")
}

// run is main without the process exit, returning the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	cmd, rest := args[0], args[1:]

	var o options
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	o.register(fs)

	switch cmd {
	case "run":
	case "fetch":
		fs.StringVar(&o.handoffPath, "handoff-out", "", "where to write the handoff JSON (file transport; - for stdout)")
	case "transform":
		fs.StringVar(&o.handoffPath, "handoff", "", "handoff JSON to read (file transport; - for stdin)")
	case "validate":
		fs.BoolVar(&o.print, "print", false, "print the effective configuration as YAML")
		fs.BoolVar(&o.probe, "probe", false, "fetch the first bytes of the source and check its header")
	case "status":
		fs.StringVar(&o.runID, "run", "", "run ID to look up in the ledger")
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	if err := config.LoadEnvFile(o.envFile); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	p, err := config.Load(o.cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if o.metricsBackend != "" {
		p.Metrics.Backend = o.metricsBackend
	}
	if o.pushGatewayURL != "" {
		p.Metrics.PushgatewayURL = o.pushGatewayURL
	}

	lvl := p.Log.Level
	if o.verbose {
		lvl = "debug"
	}
	logging.Configure(logging.Options{Level: lvl, JSON: p.Log.JSON})
	defer logging.Sync()

	issues := config.ValidatePipeline(p)
	issues = append(issues, backendIssues(p, issues)...)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", displayPath(o.cfgPath))
		return 1
	}

	switch cmd {
	case "validate":
		return validate(ctx, p, o, stdout, stderr)
	case "status":
		return status(ctx, p, o.runID, stdout, stderr)
	}

	flush := setupMetrics(p)
	defer flush()

	r, err := pipeline.New(ctx, p)
	if err != nil {
		logging.L().Error("setup failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := r.Close(); err != nil {
			logging.L().Warn("close", zap.Error(err))
		}
	}()

	start := time.Now()
	switch cmd {
	case "run":
		_, err = r.Run(ctx)
	case "fetch":
		err = fetch(ctx, r, p, o.handoffPath)
	case "transform":
		err = transform(ctx, r, p, o.handoffPath)
	}
	if err != nil {
		return 1
	}
	logging.L().Debug("completed", zap.String("command", cmd), zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))
	return 0
}

func fetch(ctx context.Context, r *pipeline.Runner, p config.Pipeline, path string) error {
	pub, err := handoff.NewPublisher(p.Handoff, handoffPath(p, path))
	if err != nil {
		logging.L().Error("handoff", zap.Error(err))
		return err
	}
	defer pub.Close()

	run := r.NewRun(ctx)
	if err := r.Fetch(ctx, run); err != nil {
		return err
	}
	if err := pub.Publish(ctx, run.Handoff); err != nil {
		logging.L().Error("publish handoff", zap.String("run_id", run.ID.String()), zap.Error(err))
		return err
	}
	logging.L().Info("handoff published",
		zap.String("run_id", run.ID.String()),
		zap.String("kind", p.Handoff.Kind),
		zap.String("filename", run.Handoff.Filename))
	return nil
}

func transform(ctx context.Context, r *pipeline.Runner, p config.Pipeline, path string) error {
	sub, err := handoff.NewConsumer(p.Handoff, handoffPath(p, path))
	if err != nil {
		logging.L().Error("handoff", zap.Error(err))
		return err
	}
	defer sub.Close()

	rec, err := sub.Receive(ctx)
	if err != nil {
		logging.L().Error("receive handoff", zap.Error(err))
		return fmt.Errorf("%w: %w", pipeline.ErrHandoff, err)
	}
	return r.Transform(ctx, r.Resume(ctx, rec))
}

// handoffPath falls back to stdio when neither the flag nor the config names
// a file.
func handoffPath(p config.Pipeline, flagPath string) string {
	if flagPath == "" && p.Handoff.Path == "" && (p.Handoff.Kind == "" || p.Handoff.Kind == "file") {
		return "-"
	}
	return flagPath
}

func validate(ctx context.Context, p config.Pipeline, o options, stdout, stderr io.Writer) int {
	if o.print {
		b, err := config.MarshalYAML(p)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		_, _ = stdout.Write(b)
	}

	if o.probe {
		client := httpds.NewClient(httpds.Config{
			Timeout:            30 * time.Second,
			InsecureSkipVerify: p.Source.HTTP.InsecureSkipVerify,
			UserAgent:          p.Source.HTTP.UserAgent,
		})
		src := httpds.NewSource(client, p.Source.URL, httpds.Compression(p.Source.Compression))
		pr, err := src.Probe(ctx, 64<<10)
		if err != nil {
			fmt.Fprintf(stderr, "probe %s: %v\n", p.Source.URL, err)
			return 1
		}
		cols, err := headerColumns(pr.Header, p.Source.Delimiter)
		if err != nil {
			fmt.Fprintf(stderr, "probe %s: header: %v\n", p.Source.URL, err)
			return 1
		}
		fmt.Fprintf(stdout, "source: gzip=%t columns=%d\n", pr.Gzip, len(cols))
		if missing := missingColumns(cols, builtin.SelectedColumns); len(missing) > 0 {
			fmt.Fprintf(stderr, "source is missing columns: %s\n", strings.Join(missing, ", "))
			return 1
		}
	}

	fmt.Fprintf(stderr, "backends: objectstore=%s ledger=%s\n",
		strings.Join(objectstore.ListKinds(), ","), strings.Join(ledger.ListKinds(), ","))
	fmt.Fprintf(stderr, "configuration is valid: %s\n", displayPath(o.cfgPath))
	return 0
}

// headerColumns splits a probed header line with the reader the fetch step
// uses, so quoting and a leading BOM are handled the same way.
func headerColumns(line, delim string) ([]string, error) {
	comma, _ := utf8.DecodeRuneInString(delim)
	line = strings.TrimPrefix(line, "\ufeff")
	r, err := csv.NewReader(strings.NewReader(line), csv.Options{Comma: comma, LazyQuotes: true})
	if err != nil {
		return nil, err
	}
	return r.Header(), nil
}

// backendIssues reports store and ledger kinds with no registered backend.
// Paths already flagged by config.ValidatePipeline are skipped.
func backendIssues(p config.Pipeline, prior []config.Issue) []config.Issue {
	flagged := make(map[string]bool, len(prior))
	for _, iss := range prior {
		if iss.Severity == config.SeverityError {
			flagged[iss.Path] = true
		}
	}
	check := func(path, kind string, kinds []string) []config.Issue {
		if flagged[path] || slices.Contains(kinds, kind) {
			return nil
		}
		return []config.Issue{{
			Severity: config.SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("no backend registered for kind %q; have %s", kind, strings.Join(kinds, ", ")),
		}}
	}

	stores := objectstore.ListKinds()
	var issues []config.Issue
	issues = append(issues, check("landing.kind", p.Landing.Kind, stores)...)
	issues = append(issues, check("transformed.kind", p.Transformed.Kind, stores)...)
	issues = append(issues, check("ledger.kind", p.Ledger.Kind, ledger.ListKinds())...)
	return issues
}

// status prints the ledger row for runID.
func status(ctx context.Context, p config.Pipeline, runID string, stdout, stderr io.Writer) int {
	if strings.TrimSpace(runID) == "" {
		fmt.Fprintln(stderr, "status: -run is required")
		return 2
	}
	if p.Ledger.Kind == "none" {
		fmt.Fprintln(stderr, "status: ledger.kind is none; runs are not recorded")
		return 1
	}
	led, err := ledger.New(ctx, ledger.Config{Kind: p.Ledger.Kind, DSN: p.Ledger.DSN, Table: p.Ledger.Table})
	if err != nil {
		fmt.Fprintf(stderr, "status: open ledger: %v\n", err)
		return 1
	}
	defer led.Close()

	rec, err := led.Get(ctx, runID)
	if errors.Is(err, ledger.ErrNotFound) {
		fmt.Fprintf(stderr, "status: run %s not found\n", runID)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "status: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "run_id:     %s\n", rec.RunID)
	fmt.Fprintf(stdout, "job:        %s\n", rec.Job)
	fmt.Fprintf(stdout, "state:      %s\n", rec.State)
	fmt.Fprintf(stdout, "filename:   %s\n", rec.Filename)
	fmt.Fprintf(stdout, "raw_rows:   %d\n", rec.RawRows)
	fmt.Fprintf(stdout, "clean_rows: %d\n", rec.CleanRows)
	fmt.Fprintf(stdout, "started_at: %s\n", rec.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(stdout, "updated_at: %s\n", rec.UpdatedAt.Format(time.RFC3339))
	if rec.Error != "" {
		fmt.Fprintf(stdout, "error:      %s\n", rec.Error)
	}
	return 0
}

func missingColumns(have, want []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[strings.TrimSpace(c)] = struct{}{}
	}
	var missing []string
	for _, c := range want {
		if _, ok := set[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// setupMetrics installs the configured backend and returns its flush func.
// A backend that fails to start leaves metrics disabled.
func setupMetrics(p config.Pipeline) func() {
	log := logging.L()
	var (
		b   metrics.Backend
		err error
	)
	switch p.Metrics.Backend {
	case "pushgateway":
		b, err = prompush.NewBackend(p.Job, p.Metrics.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       p.Metrics.DatadogAddr,
			Namespace:  "redfinetl.",
			GlobalTags: []string{"job:" + p.Job},
		})
	case "", "none":
		log.Debug("metrics disabled")
		return func() {}
	default:
		log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", p.Metrics.Backend))
		return func() {}
	}
	if err != nil {
		log.Warn("metrics backend init failed; using nop", zap.String("backend", p.Metrics.Backend), zap.Error(err))
		return func() {}
	}

	log.Info("metrics enabled", zap.String("backend", p.Metrics.Backend))
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush", zap.Error(err))
		}
	}
}

func displayPath(p string) string {
	if p == "" {
		return "(defaults)"
	}
	return p
}
