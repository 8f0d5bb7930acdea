// Package local is a directory-backed objectstore for development runs and
// tests. Objects live at <dir>/<bucket>/<key>; metadata is written next to
// each object as <key>.meta.json.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"redfinetl/internal/objectstore"
)

// MetaSuffix is appended to an object's path for its metadata sidecar.
const MetaSuffix = ".meta.json"

func init() {
	objectstore.Register("local", func(_ context.Context, cfg objectstore.Config) (objectstore.Store, error) {
		return New(cfg)
	})
}

// Store writes objects under root.
type Store struct {
	cfg  objectstore.Config
	root string
}

// New creates the bucket directory if needed.
func New(cfg objectstore.Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("local objectstore: dir must not be empty")
	}
	root := filepath.Join(cfg.Dir, cfg.Bucket)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local objectstore: %w", err)
	}
	return &Store{cfg: cfg, root: root}, nil
}

// Path returns where key is stored on disk.
func (s *Store) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(s.cfg.Key(key)))
}

// Put copies localPath to the object path through a temp file and rename, so
// readers never see a partial object.
func (s *Store) Put(ctx context.Context, key, localPath string, meta objectstore.Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("put %s: %w", key, err)
	}

	if len(meta) > 0 {
		b, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("put %s: encode meta: %w", key, err)
		}
		if err := os.WriteFile(dst+MetaSuffix, b, 0o644); err != nil {
			return fmt.Errorf("put %s: write meta: %w", key, err)
		}
	}
	return nil
}

// Meta reads the metadata sidecar for key.
func (s *Store) Meta(key string) (objectstore.Meta, error) {
	b, err := os.ReadFile(s.Path(key) + MetaSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	var m objectstore.Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode meta %s: %w", key, err)
	}
	return m, nil
}

func (s *Store) Close() error { return nil }
