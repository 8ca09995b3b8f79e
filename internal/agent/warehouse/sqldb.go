package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/lib/pq"

	"github.com/Chative-data-agent/server/internal/agent/tabular"
	errx "github.com/Chative-data-agent/server/internal/core/error"
)

// SQLEngine runs tasks through database/sql (postgres or duckdb). Each task
// runs inside one transaction that is always rolled back: settings, setup
// statements and the final query share its connection, and nothing the
// script creates outlives it.
type SQLEngine struct {
	db   *sql.DB
	name string
}

// OpenSQLEngine opens driverName ("postgres" or "duckdb") and pings it.
func OpenSQLEngine(ctx context.Context, driverName, dsn string) (*SQLEngine, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errx.WrapWarehouse(fmt.Errorf("ping %s: %w", driverName, err))
	}
	return &SQLEngine{db: db, name: driverName}, nil
}

func NewSQLEngine(db *sql.DB, name string) *SQLEngine {
	return &SQLEngine{db: db, name: name}
}

func (e *SQLEngine) Name() string { return e.name }

// DB exposes the pool, e.g. for seeding an embedded database.
func (e *SQLEngine) DB() *sql.DB { return e.db }

func (e *SQLEngine) Run(ctx context.Context, task Task) (*Job, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range append(task.Settings.Statements(), task.Setup...) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, Classify(err)
		}
	}

	statement := task.Statement
	if task.Label != "" {
		statement = "/* " + task.Label + " */ " + statement
	}
	rows, err := tx.QueryContext(ctx, statement)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, Classify(err)
	}
	job := &Job{Columns: make([]tabular.ColumnMeta, len(types))}
	for i, ct := range types {
		job.Columns[i] = tabular.ColumnMeta{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, Classify(err)
		}
		job.Rows = append(job.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return job, nil
}

func (e *SQLEngine) ListTables(ctx context.Context, database string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name", database)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, Classify(err)
		}
		out = append(out, name)
	}
	return out, Classify(rows.Err())
}

func (e *SQLEngine) Close() error {
	return e.db.Close()
}

func firstColumnStrings(job *Job) []string {
	out := make([]string, 0, len(job.Rows))
	for _, row := range job.Rows {
		if len(row) == 0 {
			continue
		}
		out = append(out, tabular.Cell(derefString(row[0])))
	}
	return out
}

func derefString(v any) any {
	switch tv := v.(type) {
	case *string:
		if tv == nil {
			return nil
		}
		return *tv
	case []byte:
		return string(tv)
	}
	return v
}

func quoteIdent(name string, q rune) string {
	s := string(q)
	return s + strings.ReplaceAll(name, s, s+s) + s
}
