// Package postgres is the PostgreSQL ledger backend, built on a pgx v5
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"redfinetl/internal/ledger"
)

func init() {
	ledger.Register("postgres", func(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
		return New(ctx, cfg)
	})
}

// Ledger stores runs in a Postgres table.
type Ledger struct {
	pool  *pgxpool.Pool
	table string
}

// New connects, pings and creates the table if it does not exist.
func New(ctx context.Context, cfg ledger.Config) (*Ledger, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres ledger: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres ledger: pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ledger: ping: %w", err)
	}
	l := &Ledger{pool: pool, table: cfg.Table}
	if _, err := pool.Exec(ctx, createSQL(l.table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ledger: create table: %w", err)
	}
	return l, nil
}

func (l *Ledger) Upsert(ctx context.Context, rec ledger.Record) error {
	_, err := l.pool.Exec(ctx, upsertSQL(l.table),
		rec.RunID, rec.Job, rec.State, rec.Filename, rec.RawRows, rec.CleanRows, rec.Error, rec.StartedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres ledger: upsert %s: %w", rec.RunID, err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, runID string) (ledger.Record, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE run_id = $1", strings.Join(mapIdent(ledger.Columns), ", "), pgFQN(l.table))
	rows, err := l.pool.Query(ctx, q, runID)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("postgres ledger: get %s: %w", runID, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[ledger.Record])
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Record{}, fmt.Errorf("%w: %s", ledger.ErrNotFound, runID)
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("postgres ledger: get %s: %w", runID, err)
	}
	return rec, nil
}

func (l *Ledger) Close() error {
	l.pool.Close()
	return nil
}

func createSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT PRIMARY KEY,
	job         TEXT NOT NULL,
	state       TEXT NOT NULL,
	filename    TEXT NOT NULL DEFAULT '',
	raw_rows    BIGINT NOT NULL DEFAULT 0,
	clean_rows  BIGINT NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`, pgFQN(table))
}

func upsertSQL(table string) string {
	cols := mapIdent(ledger.Columns)
	ph := make([]string, len(cols))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	var set []string
	for _, c := range cols[1:] {
		if c == pgIdent("started_at") {
			continue
		}
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		pgFQN(table), strings.Join(cols, ", "), strings.Join(ph, ", "), cols[0], strings.Join(set, ", "))
}

// pgIdent safely double-quotes an identifier.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.etl_runs".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
