package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"redfinetl/internal/config"
	"redfinetl/internal/ledger"
	"redfinetl/internal/transformer/builtin"
)

func fixtureTSV() string {
	vals := map[string]string{
		"period_begin": "2021-01-01",
		"period_end":   "2021-01-31",
		"city":         "Los Angeles, CA",
		"last_updated": "2024-03-10 14:43:05",
	}
	row := make([]string, len(builtin.SelectedColumns))
	for i, c := range builtin.SelectedColumns {
		if v, ok := vals[c]; ok {
			row[i] = v
		} else {
			row[i] = "1"
		}
	}
	return strings.Join(builtin.SelectedColumns, "\t") + "\n" + strings.Join(row, "\t") + "\n"
}

func newSource(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(fixtureTSV()))
	_ = zw.Close()
	body := buf.Bytes()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig writes a local-store config rooted at a temp dir and returns
// its path and the root.
func writeConfig(t *testing.T, url string, extra string) (string, string) {
	t.Helper()
	root := t.TempDir()
	cfg := fmt.Sprintf(`job: redfin_cli_test
source:
  url: %s
landing:
  kind: local
  dir: %s
  bucket: landing
transformed:
  kind: local
  dir: %s
  bucket: transformed
scratch:
  dir: %s
%s`, url, root, root, filepath.Join(root, "scratch"), extra)
	path := filepath.Join(root, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, root
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append(args, "-env-file", "")
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func onlyFile(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".meta.json") {
			names = append(names, e.Name())
		}
	}
	if len(names) != 1 {
		t.Fatalf("%s has %v; want exactly one object", dir, names)
	}
	return names[0]
}

func TestRun_Usage(t *testing.T) {
	if code, _, _ := runCLI(t); code != 2 {
		t.Fatalf("no args: code=%d; want 2", code)
	}
	if code, _, stderr := runCLI(t, "explode"); code != 2 || !strings.Contains(stderr, `unknown command "explode"`) {
		t.Fatalf("unknown: code=%d stderr=%s", code, stderr)
	}
	if code, _, _ := runCLI(t, "run", "-no-such-flag"); code != 2 {
		t.Fatalf("bad flag: code=%d; want 2", code)
	}
}

func TestValidate(t *testing.T) {
	cfg, _ := writeConfig(t, "https://example.com/x.tsv000.gz", "credentials:\n  secret_access_key: hunter2\n")

	code, stdout, stderr := runCLI(t, "validate", "-config", cfg, "-print")
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "job: redfin_cli_test") {
		t.Fatalf("-print output missing job:\n%s", stdout)
	}
	if strings.Contains(stdout, "hunter2") {
		t.Fatalf("-print leaked a secret:\n%s", stdout)
	}
	if !strings.Contains(stderr, "configuration is valid") {
		t.Fatalf("stderr=%s", stderr)
	}
}

func TestValidate_Invalid(t *testing.T) {
	cfg, _ := writeConfig(t, "ftp://example.com/x", "ledger:\n  kind: oracle\n")

	code, _, stderr := runCLI(t, "validate", "-config", cfg)
	if code != 1 {
		t.Fatalf("code=%d; want 1", code)
	}
	for _, want := range []string{"source.url", "ledger.kind", "configuration is invalid"} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("stderr missing %q:\n%s", want, stderr)
		}
	}
}

func TestValidate_Probe(t *testing.T) {
	srv := newSource(t)
	cfg, _ := writeConfig(t, srv.URL+"/city.tsv000.gz", "")

	code, stdout, stderr := runCLI(t, "validate", "-config", cfg, "-probe")
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "gzip=true columns=24") {
		t.Fatalf("stdout=%s", stdout)
	}
}

func TestRunCommand(t *testing.T) {
	srv := newSource(t)
	cfg, root := writeConfig(t, srv.URL+"/city.tsv000.gz", "")

	code, _, stderr := runCLI(t, "run", "-config", cfg)
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}

	raw := onlyFile(t, filepath.Join(root, "landing"))
	if !strings.HasPrefix(raw, "redfin_data_") {
		t.Fatalf("landing object %s", raw)
	}
	if got := onlyFile(t, filepath.Join(root, "transformed")); got != "cleaned_"+raw {
		t.Fatalf("transformed object %s; want cleaned_%s", got, raw)
	}
	b, err := os.ReadFile(filepath.Join(root, "transformed", "cleaned_"+raw))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "Los Angeles CA,") || !strings.Contains(string(b), "2021,2021,January,January") {
		t.Fatalf("unexpected transformed artifact:\n%s", b)
	}
	if entries, _ := os.ReadDir(filepath.Join(root, "scratch")); len(entries) != 0 {
		t.Fatalf("scratch not cleaned: %v", entries)
	}
}

func TestFetchThenTransform(t *testing.T) {
	srv := newSource(t)
	cfg, root := writeConfig(t, srv.URL+"/city.tsv000.gz", "")
	hand := filepath.Join(root, "handoff.json")

	if code, _, stderr := runCLI(t, "fetch", "-config", cfg, "-handoff-out", hand); code != 0 {
		t.Fatalf("fetch code=%d stderr=%s", code, stderr)
	}
	b, err := os.ReadFile(hand)
	if err != nil || !strings.Contains(string(b), `"filename":"redfin_data_`) {
		t.Fatalf("handoff=%s err=%v", b, err)
	}
	if entries, _ := os.ReadDir(filepath.Join(root, "transformed")); len(entries) != 0 {
		t.Fatalf("fetch wrote to the transformed store: %v", entries)
	}

	if code, _, stderr := runCLI(t, "transform", "-config", cfg, "-handoff", hand); code != 0 {
		t.Fatalf("transform code=%d stderr=%s", code, stderr)
	}
	raw := onlyFile(t, filepath.Join(root, "landing"))
	if got := onlyFile(t, filepath.Join(root, "transformed")); got != "cleaned_"+raw {
		t.Fatalf("transformed object %s", got)
	}
}

func TestTransform_BadHandoff(t *testing.T) {
	cfg, root := writeConfig(t, "https://example.com/x.gz", "")
	hand := filepath.Join(root, "handoff.json")
	if err := os.WriteFile(hand, []byte(`{"filename":""}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if code, _, _ := runCLI(t, "transform", "-config", cfg, "-handoff", hand); code != 1 {
		t.Fatalf("code=%d; want 1", code)
	}
}

func TestMissingColumns(t *testing.T) {
	t.Parallel()

	got := missingColumns([]string{"a", " b "}, []string{"a", "b", "c"})
	if len(got) != 1 || got[0] != "c" {
		t.Fatalf("got %v", got)
	}
}

func TestHandoffPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		h    config.Handoff
		flag string
		want string
	}{
		{"stdio fallback", config.Handoff{Kind: "file"}, "", "-"},
		{"flag wins", config.Handoff{Kind: "file", Path: "/cfg.json"}, "/flag.json", "/flag.json"},
		{"config path", config.Handoff{Kind: "file", Path: "/cfg.json"}, "", ""},
		{"kafka", config.Handoff{Kind: "kafka"}, "", ""},
	}
	for _, tc := range tests {
		if got := handoffPath(config.Pipeline{Handoff: tc.h}, tc.flag); got != tc.want {
			t.Errorf("%s: got %q; want %q", tc.name, got, tc.want)
		}
	}
}

func TestTransform_HandoffOutsideScratch(t *testing.T) {
	cfg, root := writeConfig(t, "https://example.com/x.gz", "")
	victim := filepath.Join(t.TempDir(), "redfin_data_01012024000000.csv")
	if err := os.WriteFile(victim, []byte("not a scratch file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	hand := filepath.Join(root, "handoff.json")
	body := fmt.Sprintf(`{"filename":"redfin_data_01012024000000.csv","local_path":%q}`, victim)
	if err := os.WriteFile(hand, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	if code, _, _ := runCLI(t, "transform", "-config", cfg, "-handoff", hand); code != 1 {
		t.Fatalf("code=%d; want 1", code)
	}
	if _, err := os.Stat(victim); err != nil {
		t.Fatalf("file outside scratch removed: %v", err)
	}
}

func TestValidate_QuotedSourceHeader(t *testing.T) {
	quoted := make([]string, len(builtin.SelectedColumns))
	for i, c := range builtin.SelectedColumns {
		quoted[i] = `"` + c + `"`
	}
	body := "\ufeff" + strings.Join(quoted, "\t") + "\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	cfg, _ := writeConfig(t, srv.URL+"/city.tsv000", "")

	code, stdout, stderr := runCLI(t, "validate", "-config", cfg, "-probe")
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "columns=24") {
		t.Fatalf("stdout=%s", stdout)
	}
}

func TestHeaderColumns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		line  string
		delim string
		want  []string
	}{
		{"tab", "period_begin\tcity\tstate", "\t", []string{"period_begin", "city", "state"}},
		{"quoted", `"period_begin"` + "\t" + `"city"`, "\t", []string{"period_begin", "city"}},
		{"padded", " period_begin \t city ", "\t", []string{"period_begin", "city"}},
		{"bom", "\ufeffperiod_begin,city", ",", []string{"period_begin", "city"}},
		{"bom before quote", "\ufeff\"period_begin\"\tcity", "\t", []string{"period_begin", "city"}},
		{"comma in quotes", `"city, name"` + "\tstate", "\t", []string{"city, name", "state"}},
	}
	for _, tc := range tests {
		got, err := headerColumns(tc.line, tc.delim)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if strings.Join(got, "|") != strings.Join(tc.want, "|") {
			t.Errorf("%s: got %q; want %q", tc.name, got, tc.want)
		}
	}
}

func TestBackendIssues(t *testing.T) {
	t.Parallel()

	base := config.Pipeline{
		Landing:     config.Store{Kind: "s3"},
		Transformed: config.Store{Kind: "local"},
		Ledger:      config.Ledger{Kind: "sqlite"},
	}
	if got := backendIssues(base, nil); len(got) != 0 {
		t.Fatalf("registered kinds reported: %v", got)
	}

	p := base
	p.Landing.Kind = "gcs"
	p.Ledger.Kind = "oracle"
	prior := []config.Issue{{Severity: config.SeverityError, Path: "ledger.kind", Message: "unknown"}}
	got := backendIssues(p, prior)
	if len(got) != 1 || got[0].Path != "landing.kind" || got[0].Severity != config.SeverityError {
		t.Fatalf("got %v; want one landing.kind error", got)
	}
	if !strings.Contains(got[0].Message, "local, s3") {
		t.Fatalf("message %q does not list registered kinds", got[0].Message)
	}
}

func TestValidate_UnregisteredStore(t *testing.T) {
	cfg, _ := writeConfig(t, "https://example.com/x.tsv000.gz", "")
	raw, err := os.ReadFile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	patched := strings.Replace(string(raw), "landing:\n  kind: local", "landing:\n  kind: gcs", 1)
	if err := os.WriteFile(cfg, []byte(patched), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := runCLI(t, "validate", "-config", cfg)
	if code != 1 || !strings.Contains(stderr, "no backend registered") {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
}

func TestStatus(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	cfg, _ := writeConfig(t, "https://example.com/x.tsv000.gz",
		fmt.Sprintf("ledger:\n  kind: sqlite\n  dsn: %s\n", dsn))

	led, err := ledger.New(context.Background(), ledger.Config{Kind: "sqlite", DSN: dsn, Table: config.DefaultLedgerTable})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	err = led.Upsert(context.Background(), ledger.Record{
		RunID: "run-1", Job: "redfin_cli_test", State: "TRANSFORMED",
		Filename: "redfin_data_15032024093000.csv", RawRows: 4, CleanRows: 3,
		StartedAt: now, UpdatedAt: now.Add(time.Minute),
	})
	if cerr := led.Close(); err != nil || cerr != nil {
		t.Fatalf("seed ledger: %v %v", err, cerr)
	}

	code, stdout, stderr := runCLI(t, "status", "-config", cfg, "-run", "run-1")
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
	for _, want := range []string{"state:      TRANSFORMED", "clean_rows: 3", "redfin_data_15032024093000.csv"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}

	if code, _, stderr := runCLI(t, "status", "-config", cfg, "-run", "run-2"); code != 1 || !strings.Contains(stderr, "not found") {
		t.Fatalf("missing run: code=%d stderr=%s", code, stderr)
	}
	if code, _, _ := runCLI(t, "status", "-config", cfg); code != 2 {
		t.Fatalf("no -run: code=%d; want 2", code)
	}
}
