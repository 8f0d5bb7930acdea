// Package sqldb is the database/sql ledger backend for SQLite, MySQL and SQL
// Server. All three share one sqlx implementation; a dialect supplies the
// identifier quoting, column types and upsert statement.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
	_ "modernc.org/sqlite"

	"redfinetl/internal/ledger"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)

	for kind := range dialects {
		kind := kind
		ledger.Register(kind, func(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
			return Open(ctx, kind, cfg)
		})
	}
}

type dialect struct {
	driver  string
	ident   func(string) string
	text    string // type of short text columns
	long    string // type of the error column
	ts      string
	prepDSN func(string) (string, error)
	upsert  func(table string) string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		ident:  quoteWith(`"`, `"`),
		text:   "TEXT",
		long:   "TEXT",
		ts:     "TIMESTAMP",
		prepDSN: func(dsn string) (string, error) {
			if strings.TrimSpace(dsn) == "" {
				return "", errors.New("DSN must not be empty")
			}
			return dsn, nil
		},
		upsert: func(table string) string {
			return insertSQL(quoteWith(`"`, `"`), table) + " ON CONFLICT (run_id) DO UPDATE SET " +
				setList(func(c string) string { return c + " = excluded." + c })
		},
	},
	"mysql": {
		driver: "mysql",
		ident:  quoteWith("`", "`"),
		text:   "VARCHAR(255)",
		long:   "TEXT",
		ts:     "DATETIME(6)",
		prepDSN: func(dsn string) (string, error) {
			c, err := mysql.ParseDSN(dsn)
			if err != nil {
				return "", err
			}
			// Scan DATETIME into time.Time.
			c.ParseTime = true
			c.Loc = time.UTC
			return c.FormatDSN(), nil
		},
		upsert: func(table string) string {
			return insertSQL(quoteWith("`", "`"), table) + " ON DUPLICATE KEY UPDATE " +
				setList(func(c string) string { return c + " = VALUES(" + c + ")" })
		},
	},
	"mssql": {
		driver: "sqlserver",
		ident:  quoteWith("[", "]"),
		text:   "NVARCHAR(255)",
		long:   "NVARCHAR(MAX)",
		ts:     "DATETIME2",
		prepDSN: func(dsn string) (string, error) {
			if _, err := msdsn.Parse(dsn); err != nil {
				return "", err
			}
			return dsn, nil
		},
		upsert: func(table string) string {
			cols := strings.Join(ledger.Columns, ", ")
			return fmt.Sprintf("MERGE %s AS t USING (SELECT :run_id AS run_id) AS s ON t.run_id = s.run_id "+
				"WHEN MATCHED THEN UPDATE SET %s "+
				"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
				fqn(quoteWith("[", "]"), table),
				setList(func(c string) string { return c + " = :" + c }),
				cols, namedList())
		},
	},
}

// Ledger stores runs through database/sql.
type Ledger struct {
	db    *sqlx.DB
	kind  string
	d     dialect
	table string
}

// Open connects with the driver for kind, pings and creates the table when it
// does not exist.
func Open(ctx context.Context, kind string, cfg ledger.Config) (*Ledger, error) {
	d, ok := dialects[kind]
	if !ok {
		return nil, fmt.Errorf("sqldb ledger: unknown kind %q", kind)
	}
	dsn, err := d.prepDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s ledger: dsn: %w", kind, err)
	}
	db, err := sqlx.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s ledger: open: %w", kind, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ledger: ping: %w", kind, err)
	}

	l := &Ledger{db: db, kind: kind, d: d, table: cfg.Table}
	if _, err := db.ExecContext(ctx, l.createSQL()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ledger: create table: %w", kind, err)
	}
	return l, nil
}

func (l *Ledger) Upsert(ctx context.Context, rec ledger.Record) error {
	rec.StartedAt = rec.StartedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if _, err := l.db.NamedExecContext(ctx, l.d.upsert(l.table), rec); err != nil {
		return fmt.Errorf("%s ledger: upsert %s: %w", l.kind, rec.RunID, err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, runID string) (ledger.Record, error) {
	q := l.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE run_id = ?",
		strings.Join(ledger.Columns, ", "), fqn(l.d.ident, l.table)))
	var rec ledger.Record
	err := l.db.GetContext(ctx, &rec, q, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, fmt.Errorf("%w: %s", ledger.ErrNotFound, runID)
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("%s ledger: get %s: %w", l.kind, runID, err)
	}
	return rec, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) createSQL() string {
	d := l.d
	table := fqn(d.ident, l.table)
	body := fmt.Sprintf(`(
	run_id      %[1]s NOT NULL PRIMARY KEY,
	job         %[1]s NOT NULL,
	state       %[1]s NOT NULL,
	filename    %[1]s NOT NULL,
	raw_rows    BIGINT NOT NULL,
	clean_rows  BIGINT NOT NULL,
	error       %[2]s NOT NULL,
	started_at  %[3]s NOT NULL,
	updated_at  %[3]s NOT NULL
)`, d.text, d.long, d.ts)

	if l.kind == "mssql" {
		// SQL Server has no CREATE TABLE IF NOT EXISTS.
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s %s",
			strings.ReplaceAll(l.table, "'", "''"), table, body)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s", table, body)
}

func insertSQL(ident func(string) string, table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		fqn(ident, table), strings.Join(ledger.Columns, ", "), namedList())
}

// setList renders the update assignments; started_at is kept from the first
// insert.
func setList(assign func(col string) string) string {
	var parts []string
	for _, c := range ledger.Columns[1:] {
		if c == "started_at" {
			continue
		}
		parts = append(parts, assign(c))
	}
	return strings.Join(parts, ", ")
}

func namedList() string {
	out := make([]string, len(ledger.Columns))
	for i, c := range ledger.Columns {
		out[i] = ":" + c
	}
	return strings.Join(out, ", ")
}

func quoteWith(open, close string) func(string) string {
	return func(id string) string {
		return open + strings.ReplaceAll(id, close, close+close) + close
	}
}

// fqn quotes each dot-separated part of a possibly schema-qualified name.
func fqn(ident func(string) string, name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = ident(p)
	}
	return strings.Join(parts, ".")
}
