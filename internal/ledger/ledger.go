// Package ledger records pipeline runs in a database table so operators can
// see which snapshot each run produced and where it stopped. Backends
// register a Factory in init; import ledger/all to enable them. The "none"
// kind is always available and records nothing.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for an unknown run.
var ErrNotFound = errors.New("ledger: run not found")

// Record is one row of the ledger, keyed by RunID. Each state transition
// upserts the whole row.
type Record struct {
	RunID     string    `db:"run_id"`
	Job       string    `db:"job"`
	State     string    `db:"state"`
	Filename  string    `db:"filename"`
	RawRows   int64     `db:"raw_rows"`
	CleanRows int64     `db:"clean_rows"`
	Error     string    `db:"error"`
	StartedAt time.Time `db:"started_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Columns lists the ledger columns in table order.
var Columns = []string{
	"run_id", "job", "state", "filename", "raw_rows", "clean_rows", "error", "started_at", "updated_at",
}

// Ledger persists run records.
type Ledger interface {
	// Upsert inserts rec or replaces the row with the same RunID.
	Upsert(ctx context.Context, rec Record) error
	// Get returns the row for runID or ErrNotFound.
	Get(ctx context.Context, runID string) (Record, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Kind  string
	DSN   string
	Table string
}

// Factory opens a Ledger for cfg.
type Factory func(ctx context.Context, cfg Config) (Ledger, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{
		"none": func(context.Context, Config) (Ledger, error) { return Nop{}, nil },
	}
)

// Register makes a backend available under kind, replacing any previous one.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the Ledger registered for cfg.Kind. An empty kind means "none".
func New(ctx context.Context, cfg Config) (Ledger, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = "none"
	}
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported ledger.kind=%s", kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
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

// Nop discards every record.
type Nop struct{}

func (Nop) Upsert(context.Context, Record) error { return nil }

func (Nop) Get(_ context.Context, runID string) (Record, error) {
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
}

func (Nop) Close() error { return nil }
