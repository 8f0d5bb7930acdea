package config

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

const redacted = "***"

// Redacted returns a copy of p with secrets masked, suitable for logging or
// printing.
func (p Pipeline) Redacted() Pipeline {
	if p.Credentials.SecretAccessKey != "" {
		p.Credentials.SecretAccessKey = redacted
	}
	if p.Credentials.SessionToken != "" {
		p.Credentials.SessionToken = redacted
	}
	if p.Ledger.DSN != "" {
		p.Ledger.DSN = redacted
	}
	return p
}

// MarshalYAML renders the redacted configuration as YAML.
func MarshalYAML(p Pipeline) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p.Redacted()); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
