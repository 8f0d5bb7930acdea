// Package config defines the configuration model for the Redfin market-tracker
// pipeline and loads it from a YAML file plus environment overrides.
//
// Precedence (lowest to highest):
//
//  1. Built-in defaults (applyDefaults).
//  2. The YAML file passed to Load, when non-empty.
//  3. Environment variables prefixed REDFINETL_. A double underscore marks
//     nesting, so REDFINETL_LANDING__BUCKET sets landing.bucket.
//
// Example (trimmed):
//
//	job: redfin_analytics_etl
//	source:
//	  url: https://redfin-public-data.s3.us-west-2.amazonaws.com/redfin_market_tracker/city_market_tracker.tsv000.gz
//	landing:     { kind: s3, bucket: redfin-analytics-landing-zone-raw-data }
//	transformed: { kind: s3, bucket: redfin-analytics-transformed-data-bucket }
//	credentials: { profile: aws_new_conn, region: us-west-2 }
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix recognised for environment overrides.
const EnvPrefix = "REDFINETL_"

// Defaults for the public Redfin city market tracker.
const (
	DefaultJob               = "redfin_analytics_etl"
	DefaultSourceURL         = "https://redfin-public-data.s3.us-west-2.amazonaws.com/redfin_market_tracker/city_market_tracker.tsv000.gz"
	DefaultLandingBucket     = "redfin-analytics-landing-zone-raw-data"
	DefaultTransformedBucket = "redfin-analytics-transformed-data-bucket"
	DefaultLedgerTable       = "etl_runs"
	DefaultHandoffTopic      = "redfin-etl-handoff"
)

// Pipeline is the full configuration of one pipeline deployment.
type Pipeline struct {
	// Job labels logs, metrics and ledger rows.
	Job string `yaml:"job"`

	Source      Source      `yaml:"source"`
	Landing     Store       `yaml:"landing"`
	Transformed Store       `yaml:"transformed"`
	Credentials Credentials `yaml:"credentials"`
	Scratch     Scratch     `yaml:"scratch"`
	Ledger      Ledger      `yaml:"ledger"`
	Handoff     Handoff     `yaml:"handoff"`
	Runtime     Runtime     `yaml:"runtime"`
	Log         Log         `yaml:"log"`
	Metrics     Metrics     `yaml:"metrics"`
}

// Source describes the upstream dataset.
type Source struct {
	URL string `yaml:"url"`

	// Delimiter is the single-character field separator of the source file.
	Delimiter string `yaml:"delimiter"`

	// Compression is one of "auto", "gzip" or "none". auto sniffs the gzip
	// magic bytes.
	Compression string `yaml:"compression"`

	HTTP HTTP `yaml:"http"`
}

// HTTP tunes the datasource client.
type HTTP struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	UserAgent          string        `yaml:"user_agent"`
}

// Store names one object storage destination.
type Store struct {
	// Kind selects the backend: "s3" or "local".
	Kind string `yaml:"kind"`

	// Bucket is the S3 bucket, or the subdirectory of Dir for local stores.
	Bucket string `yaml:"bucket"`

	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`

	// Dir is the root directory of a local store.
	Dir string `yaml:"dir"`
}

// Credentials is the credential handle shared by both stores. Profile names a
// shared-config profile; static keys win when both are set.
type Credentials struct {
	Profile         string `yaml:"profile"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Scratch configures the run-local temporary area.
type Scratch struct {
	Dir string `yaml:"dir"`

	// MinFreeBytes fails a step early when the scratch filesystem has less
	// free space. Zero disables the check.
	MinFreeBytes uint64 `yaml:"min_free_bytes"`

	// KeepOnFailure leaves the raw scratch file in place when the transform
	// step fails so an external retry can re-run it.
	KeepOnFailure bool `yaml:"keep_on_failure"`
}

// Ledger configures the optional run ledger.
type Ledger struct {
	// Kind is one of "none", "postgres", "sqlite", "mysql", "mssql".
	Kind  string `yaml:"kind"`
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Handoff configures how the fetch and transform steps exchange the handoff
// record when they run as separate processes.
type Handoff struct {
	// Kind is one of "file" or "kafka".
	Kind      string   `yaml:"kind"`
	Path      string   `yaml:"path"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Partition int32    `yaml:"partition"`

	// Offset is "oldest" or "newest" and only applies to kafka consumers.
	Offset string `yaml:"offset"`
}

// Runtime controls in-step buffering.
type Runtime struct {
	ChannelBuffer int `yaml:"channel_buffer"`
}

// Log configures internal/logging.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is one of "none", "pushgateway", "datadog".
	Backend        string `yaml:"backend"`
	PushgatewayURL string `yaml:"pushgateway_url"`
	DatadogAddr    string `yaml:"datadog_addr"`
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path (if non-empty), applies REDFINETL_*
// environment overrides and fills defaults.
func Load(path string) (Pipeline, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Pipeline{}, fmt.Errorf("config %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Pipeline{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Pipeline{}, fmt.Errorf("load env overrides: %w", err)
	}

	var p Pipeline
	if err := k.UnmarshalWithConf("", &p, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&p)
	return p, nil
}

// envKey maps REDFINETL_LANDING__BUCKET to landing.bucket.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func applyDefaults(p *Pipeline) {
	if p.Job == "" {
		p.Job = DefaultJob
	}

	if p.Source.URL == "" {
		p.Source.URL = DefaultSourceURL
	}
	if p.Source.Delimiter == "" {
		p.Source.Delimiter = "\t"
	} else if p.Source.Delimiter == `\t` {
		p.Source.Delimiter = "\t"
	}
	if p.Source.Compression == "" {
		p.Source.Compression = "auto"
	}
	if p.Source.HTTP.Timeout <= 0 {
		// The city tracker is several GB uncompressed; the default client
		// timeout covers the whole body read.
		p.Source.HTTP.Timeout = 30 * time.Minute
	}

	if p.Landing.Kind == "" {
		p.Landing.Kind = "s3"
	}
	if p.Landing.Bucket == "" {
		p.Landing.Bucket = DefaultLandingBucket
	}
	if p.Transformed.Kind == "" {
		p.Transformed.Kind = "s3"
	}
	if p.Transformed.Bucket == "" {
		p.Transformed.Bucket = DefaultTransformedBucket
	}

	if p.Scratch.Dir == "" {
		p.Scratch.Dir = os.TempDir()
	}

	if p.Ledger.Kind == "" {
		p.Ledger.Kind = "none"
	}
	if p.Ledger.Table == "" {
		p.Ledger.Table = DefaultLedgerTable
	}

	if p.Handoff.Kind == "" {
		p.Handoff.Kind = "file"
	}
	if p.Handoff.Topic == "" {
		p.Handoff.Topic = DefaultHandoffTopic
	}
	if p.Handoff.Offset == "" {
		p.Handoff.Offset = "oldest"
	}

	if p.Runtime.ChannelBuffer == 0 {
		p.Runtime.ChannelBuffer = 1024
	}

	if p.Log.Level == "" {
		p.Log.Level = "info"
	}
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = "none"
	}
}
