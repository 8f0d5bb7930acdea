// Package config provides configuration models and helpers for the pipeline.
//
// This file adds a lightweight linter for Pipeline values. It performs static
// checks and returns a list of issues (errors and warnings) that the CLI
// surfaces before any network or disk work starts.
package config

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "landing.bucket").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate p.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs, metrics and ledger rows",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateStore("landing", p.Landing)...)
	issues = append(issues, validateStore("transformed", p.Transformed)...)
	issues = append(issues, validateDestinations(p.Landing, p.Transformed)...)
	issues = append(issues, validateCredentials(p)...)
	issues = append(issues, validateScratch(p.Scratch)...)
	issues = append(issues, validateLedger(p.Ledger)...)
	issues = append(issues, validateHandoff(p.Handoff)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateMetrics(p.Metrics)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	u, err := url.Parse(s.URL)
	switch {
	case strings.TrimSpace(s.URL) == "":
		issues = append(issues, Issue{SeverityError, "source.url", "source.url must not be empty"})
	case err != nil:
		issues = append(issues, Issue{SeverityError, "source.url", fmt.Sprintf("invalid url: %v", err)})
	case u.Scheme != "http" && u.Scheme != "https":
		issues = append(issues, Issue{SeverityError, "source.url", fmt.Sprintf("unsupported scheme %q; want http or https", u.Scheme)})
	case u.Scheme == "http":
		issues = append(issues, Issue{SeverityWarning, "source.url", "source is fetched over plain http"})
	}

	if utf8.RuneCountInString(s.Delimiter) != 1 {
		issues = append(issues, Issue{SeverityError, "source.delimiter", fmt.Sprintf("delimiter must be a single character, got %q", s.Delimiter)})
	}

	switch s.Compression {
	case "auto", "gzip", "none":
	default:
		issues = append(issues, Issue{SeverityError, "source.compression", fmt.Sprintf("unknown compression %q; want auto, gzip or none", s.Compression)})
	}

	if s.HTTP.MaxRetries < 0 {
		issues = append(issues, Issue{SeverityError, "source.http.max_retries", "max_retries must not be negative"})
	}
	if s.HTTP.InsecureSkipVerify {
		issues = append(issues, Issue{SeverityWarning, "source.http.insecure_skip_verify", "TLS verification is disabled"})
	}

	return issues
}

func validateStore(prefix string, s Store) []Issue {
	var issues []Issue

	switch s.Kind {
	case "s3":
		if strings.TrimSpace(s.Bucket) == "" {
			issues = append(issues, Issue{SeverityError, prefix + ".bucket", "s3 store requires a bucket"})
		}
	case "local":
		if strings.TrimSpace(s.Dir) == "" {
			issues = append(issues, Issue{SeverityError, prefix + ".dir", "local store requires a dir"})
		}
	case "":
		issues = append(issues, Issue{SeverityError, prefix + ".kind", prefix + ".kind must not be empty"})
	default:
		issues = append(issues, Issue{SeverityWarning, prefix + ".kind", fmt.Sprintf("unknown store kind %q; ensure a matching backend is registered", s.Kind)})
	}

	if strings.HasPrefix(s.Prefix, "/") {
		issues = append(issues, Issue{SeverityWarning, prefix + ".prefix", "prefix starts with '/'; object keys will contain an empty path segment"})
	}
	return issues
}

// validateDestinations rejects a landing zone and transformed store that
// resolve to the same location with no prefix to separate them.
func validateDestinations(landing, transformed Store) []Issue {
	if landing.Kind != transformed.Kind {
		return nil
	}
	same := false
	switch landing.Kind {
	case "s3":
		same = landing.Bucket == transformed.Bucket
	case "local":
		same = path.Clean(landing.Dir) == path.Clean(transformed.Dir) && landing.Bucket == transformed.Bucket
	}
	if same && landing.Prefix == transformed.Prefix {
		return []Issue{{
			Severity: SeverityWarning,
			Path:     "transformed",
			Message:  "landing and transformed stores resolve to the same location",
		}}
	}
	return nil
}

func validateCredentials(p Pipeline) []Issue {
	if p.Landing.Kind != "s3" && p.Transformed.Kind != "s3" {
		return nil
	}
	c := p.Credentials
	var issues []Issue
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		issues = append(issues, Issue{SeverityError, "credentials", "access_key_id and secret_access_key must be set together"})
	}
	if c.AccessKeyID != "" && c.Profile != "" {
		issues = append(issues, Issue{SeverityWarning, "credentials.profile", "static keys are set; profile is ignored"})
	}
	if c.Endpoint != "" {
		if _, err := url.Parse(c.Endpoint); err != nil {
			issues = append(issues, Issue{SeverityError, "credentials.endpoint", fmt.Sprintf("invalid endpoint: %v", err)})
		}
	}
	return issues
}

func validateScratch(s Scratch) []Issue {
	if strings.TrimSpace(s.Dir) == "" {
		return []Issue{{SeverityError, "scratch.dir", "scratch.dir must not be empty"}}
	}
	return nil
}

func validateLedger(l Ledger) []Issue {
	var issues []Issue
	switch l.Kind {
	case "none":
		return nil
	case "postgres", "sqlite", "mysql", "mssql":
	default:
		issues = append(issues, Issue{SeverityError, "ledger.kind", fmt.Sprintf("unknown ledger kind %q", l.Kind)})
		return issues
	}
	if strings.TrimSpace(l.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "ledger.dsn", "ledger.dsn must not be empty"})
	}
	if strings.TrimSpace(l.Table) == "" {
		issues = append(issues, Issue{SeverityError, "ledger.table", "ledger.table must not be empty"})
	}
	return issues
}

func validateHandoff(h Handoff) []Issue {
	var issues []Issue
	switch h.Kind {
	case "file":
	case "kafka":
		if len(h.Brokers) == 0 {
			issues = append(issues, Issue{SeverityError, "handoff.brokers", "kafka handoff requires at least one broker"})
		}
		if strings.TrimSpace(h.Topic) == "" {
			issues = append(issues, Issue{SeverityError, "handoff.topic", "kafka handoff requires a topic"})
		}
		if h.Offset != "oldest" && h.Offset != "newest" {
			issues = append(issues, Issue{SeverityError, "handoff.offset", fmt.Sprintf("offset must be oldest or newest, got %q", h.Offset)})
		}
	default:
		issues = append(issues, Issue{SeverityError, "handoff.kind", fmt.Sprintf("unknown handoff kind %q", h.Kind)})
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	if r.ChannelBuffer < 0 {
		return []Issue{{SeverityError, "runtime.channel_buffer", "channel_buffer must not be negative"}}
	}
	return nil
}

func validateMetrics(m Metrics) []Issue {
	switch m.Backend {
	case "none":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			return []Issue{{SeverityError, "metrics.pushgateway_url", "pushgateway backend requires pushgateway_url"}}
		}
	case "datadog":
		if m.DatadogAddr == "" {
			return []Issue{{SeverityError, "metrics.datadog_addr", "datadog backend requires datadog_addr"}}
		}
	default:
		return []Issue{{SeverityWarning, "metrics.backend", fmt.Sprintf("unknown metrics backend %q; metrics disabled", m.Backend)}}
	}
	return nil
}
