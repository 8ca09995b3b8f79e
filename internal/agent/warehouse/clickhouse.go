package warehouse

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/tabular"
	errx "github.com/Chative-data-agent/server/internal/core/error"
)

// ClickHouseEngine runs tasks over the native protocol. The task label is the
// query id and settings travel with the query context.
//
// ClickHouse keeps temporary tables per connection, so a task with setup
// statements runs on a dedicated single-connection session that is closed
// afterwards. ClickHouse has no rollback: non-temporary DDL in a setup
// statement persists.
type ClickHouseEngine struct {
	conn    driver.Conn
	session func() (driver.Conn, error)
}

func NewClickHouseEngine(ctx context.Context, cfg model.WarehouseConfig) (*ClickHouseEngine, error) {
	opts := clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	}
	conn, err := clickhouse.Open(&opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, errx.WrapWarehouse(fmt.Errorf("ping clickhouse: %w", err))
	}
	return &ClickHouseEngine{conn: conn, session: dedicatedSession(opts)}, nil
}

func dedicatedSession(opts clickhouse.Options) func() (driver.Conn, error) {
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	return func() (driver.Conn, error) {
		conn, err := clickhouse.Open(&opts)
		if err != nil {
			return nil, errx.WrapWarehouse(fmt.Errorf("open clickhouse session: %w", err))
		}
		return conn, nil
	}
}

func (e *ClickHouseEngine) Name() string { return "clickhouse" }

func (e *ClickHouseEngine) Run(ctx context.Context, task Task) (*Job, error) {
	opts := []clickhouse.QueryOption{clickhouse.WithQueryID(task.Label)}
	if len(task.Settings) > 0 {
		opts = append(opts, clickhouse.WithSettings(clickhouse.Settings(task.Settings.Map())))
	}

	ctx = clickhouse.Context(ctx, opts...)

	conn := e.conn
	if len(task.Setup) > 0 {
		session, err := e.session()
		if err != nil {
			return nil, err
		}
		defer session.Close()
		conn = session
	}
	for _, stmt := range task.Setup {
		if err := conn.Exec(ctx, stmt); err != nil {
			return nil, Classify(err)
		}
	}

	rows, err := conn.Query(ctx, task.Statement)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	job := &Job{Columns: make([]tabular.ColumnMeta, len(types))}
	for i, ct := range types {
		job.Columns[i] = tabular.ColumnMeta{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, Classify(err)
		}
		row := make([]any, len(dest))
		for i, d := range dest {
			row[i] = reflect.ValueOf(d).Elem().Interface()
		}
		job.Rows = append(job.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return job, nil
}

func (e *ClickHouseEngine) ListTables(ctx context.Context, database string) ([]string, error) {
	job, err := e.Run(ctx, Task{Label: newLabel("list_tables"), Statement: "SHOW TABLES FROM " + quoteIdent(database, '`')})
	if err != nil {
		return nil, err
	}
	return firstColumnStrings(job), nil
}

func (e *ClickHouseEngine) Close() error {
	return e.conn.Close()
}
