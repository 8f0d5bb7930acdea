package handoff

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File reads and writes the record as a JSON document. The path "-" means
// stdout for Publish and stdin for Receive.
type File struct {
	path string

	// stdin and stdout are swapped in tests.
	stdin  io.Reader
	stdout io.Writer
}

// NewFile returns a file transport for path.
func NewFile(path string) *File {
	return &File{path: path, stdin: os.Stdin, stdout: os.Stdout}
}

// Path returns the configured path.
func (f *File) Path() string { return f.path }

// Publish writes r atomically: a temp file in the same directory is renamed
// over the target.
func (f *File) Publish(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	switch f.path {
	case "":
		return fmt.Errorf("handoff: file path must not be empty")
	case "-":
		_, err := f.stdout.Write(b)
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".handoff-*")
	if err != nil {
		return fmt.Errorf("handoff: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("handoff: write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("handoff: write %s: %w", f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("handoff: %w", err)
	}
	return nil
}

// Receive reads and validates the record.
func (f *File) Receive(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var (
		b   []byte
		err error
	)
	switch f.path {
	case "":
		return Record{}, fmt.Errorf("handoff: file path must not be empty")
	case "-":
		b, err = io.ReadAll(f.stdin)
	default:
		b, err = os.ReadFile(f.path)
	}
	if err != nil {
		return Record{}, fmt.Errorf("handoff: read %s: %w", f.path, err)
	}
	return Unmarshal(bytes.TrimSpace(b))
}

func (f *File) Close() error { return nil }
