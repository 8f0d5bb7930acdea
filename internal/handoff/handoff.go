// Package handoff carries the fetch step's result to the transform step when
// the two run as separate processes. The record is JSON; transports are a
// file on shared disk or a Kafka topic.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"redfinetl/internal/config"
)

// ErrInvalid is returned for a record missing one of its fields.
var ErrInvalid = errors.New("handoff: invalid record")

// Record identifies the raw artifact produced by a fetch.
type Record struct {
	Filename  string `json:"filename"`
	LocalPath string `json:"local_path"`
}

// Validate reports a record with an empty field.
func (r Record) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Filename) == "" {
		missing = append(missing, "filename")
	}
	if strings.TrimSpace(r.LocalPath) == "" {
		missing = append(missing, "local_path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Marshal validates r and encodes it.
func Marshal(r Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// Unmarshal decodes and validates a record.
func Unmarshal(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("handoff: decode: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Publisher emits a record for a later transform.
type Publisher interface {
	Publish(ctx context.Context, r Record) error
	Close() error
}

// Consumer receives the record a fetch published.
type Consumer interface {
	Receive(ctx context.Context) (Record, error)
	Close() error
}

// NewPublisher opens the transport configured in h. For the file transport,
// path overrides h.Path when non-empty.
func NewPublisher(h config.Handoff, path string) (Publisher, error) {
	switch h.Kind {
	case "", "file":
		return NewFile(pick(path, h.Path)), nil
	case "kafka":
		return NewKafkaPublisher(KafkaConfig{Brokers: h.Brokers, Topic: h.Topic, Partition: h.Partition})
	default:
		return nil, fmt.Errorf("unsupported handoff.kind=%s", h.Kind)
	}
}

// NewConsumer opens the transport configured in h. For the file transport,
// path overrides h.Path when non-empty.
func NewConsumer(h config.Handoff, path string) (Consumer, error) {
	switch h.Kind {
	case "", "file":
		return NewFile(pick(path, h.Path)), nil
	case "kafka":
		return NewKafkaConsumer(KafkaConfig{
			Brokers:   h.Brokers,
			Topic:     h.Topic,
			Partition: h.Partition,
			Offset:    h.Offset,
		})
	default:
		return nil, fmt.Errorf("unsupported handoff.kind=%s", h.Kind)
	}
}

func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
