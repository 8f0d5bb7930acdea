// Package objectstore defines the storage-agnostic contract the pipeline
// uploads artifacts through, plus a small factory registry. Concrete
// backends register themselves in init; import objectstore/all to enable
// every built-in backend.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"redfinetl/internal/config"
)

// Well-known metadata keys attached to uploaded artifacts.
const (
	MetaChecksum = "xxh3"
	MetaRows     = "rows"
	MetaColumns  = "columns"
	MetaRunID    = "run-id"
)

// ErrNotFound is returned by backends that can report a missing object.
var ErrNotFound = errors.New("objectstore: object not found")

// Meta is user metadata stored alongside an object.
type Meta map[string]string

// Store uploads local files under a key. Put overwrites an existing object.
type Store interface {
	Put(ctx context.Context, key, localPath string, meta Meta) error
	Close() error
}

// Config is the backend-agnostic description of one destination.
type Config struct {
	Kind   string
	Bucket string
	Prefix string
	Dir    string

	Credentials config.Credentials
}

// FromPipeline builds a Config for one of the pipeline's stores.
func FromPipeline(s config.Store, creds config.Credentials) Config {
	return Config{
		Kind:        s.Kind,
		Bucket:      s.Bucket,
		Prefix:      s.Prefix,
		Dir:         s.Dir,
		Credentials: creds,
	}
}

// Location renders bucket and key for logs, e.g. s3://bucket/prefix/key.
func (c Config) Location(key string) string {
	return c.Kind + "://" + c.Bucket + "/" + c.Key(key)
}

// Key joins Prefix and name into an object key. A trailing slash on Prefix is
// optional.
func (c Config) Key(name string) string {
	if c.Prefix == "" {
		return name
	}
	return path.Join(strings.TrimSuffix(c.Prefix, "/"), name)
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Registering the same kind
// again replaces the previous factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the Store registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported objectstore.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
