package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/duckdb/duckdb-go/v2"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/tabular"
	errx "github.com/Chative-data-agent/server/internal/core/error"
)

type fakeEngine struct {
	tasks []Task
	run   func(Task) (*Job, error)
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Run(_ context.Context, task Task) (*Job, error) {
	f.tasks = append(f.tasks, task)
	return f.run(task)
}

func (f *fakeEngine) ListTables(context.Context, string) ([]string, error) {
	return []string{"sales"}, nil
}

func (f *fakeEngine) Close() error { return nil }

func TestExecutor_ValidatePlanExplainsLastStatementAfterSetup(t *testing.T) {
	engine := &fakeEngine{run: func(Task) (*Job, error) { return &Job{}, nil }}
	exec, err := NewExecutor(engine, model.WarehouseConfig{DialectSettings: "max_threads=4"})
	require.NoError(t, err)

	require.NoError(t, exec.ValidatePlan(context.Background(), "SET x = 1; CREATE TEMP TABLE t AS SELECT 1 AS n; SELECT n FROM t;"))

	require.Len(t, engine.tasks, 1)
	task := engine.tasks[0]
	assert.Equal(t, []string{"SET x = 1", "CREATE TEMP TABLE t AS SELECT 1 AS n"}, task.Setup)
	assert.Equal(t, "EXPLAIN SELECT n FROM t", task.Statement)
	assert.Regexp(t, `^validate_sql_[0-9a-f]{32}$`, task.Label)
	assert.Equal(t, Settings{{Key: "max_threads", Value: "4"}}, task.Settings)
}

func TestExecutor_ExecuteSubmitsScriptAsOneTask(t *testing.T) {
	engine := &fakeEngine{run: func(Task) (*Job, error) {
		return &Job{Columns: []tabular.ColumnMeta{{Name: "n", DatabaseType: "INTEGER"}}, Rows: [][]any{{int32(1)}}}, nil
	}}
	exec, err := NewExecutor(engine, model.WarehouseConfig{})
	require.NoError(t, err)

	res, err := exec.Execute(context.Background(), "CREATE TEMP TABLE t AS SELECT 1 AS n; SELECT n FROM t")
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)

	require.Len(t, engine.tasks, 1)
	assert.Equal(t, []string{"CREATE TEMP TABLE t AS SELECT 1 AS n"}, engine.tasks[0].Setup)
	assert.Equal(t, "SELECT n FROM t", engine.tasks[0].Statement)
}

func TestExecutor_ValidatePlanReportsDiagnostic(t *testing.T) {
	engine := &fakeEngine{run: func(Task) (*Job, error) {
		return nil, &EngineError{Status: "UNKNOWN_IDENTIFIER (47)", Diagnostic: "column 'rgn' not found"}
	}}
	exec, err := NewExecutor(engine, model.WarehouseConfig{})
	require.NoError(t, err)

	err = exec.ValidatePlan(context.Background(), "SELECT rgn FROM sales")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "UNKNOWN_IDENTIFIER (47)", verr.Status)
	assert.Contains(t, verr.Error(), "column 'rgn' not found")
	assert.Contains(t, verr.Error(), "Query failed validation.")
}

func TestExecutor_TransientPassesThrough(t *testing.T) {
	engine := &fakeEngine{run: func(Task) (*Job, error) {
		return nil, errx.WrapWarehouse(errors.New("connection refused"))
	}}
	exec, err := NewExecutor(engine, model.WarehouseConfig{})
	require.NoError(t, err)

	err = exec.ValidatePlan(context.Background(), "SELECT 1")
	assert.True(t, errx.IsTransient(err))
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestExecutor_ExecuteNormalizesLastStatement(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	engine := &fakeEngine{run: func(task Task) (*Job, error) {
		return &Job{
			Columns: []tabular.ColumnMeta{{Name: "day", DatabaseType: "Date"}, {Name: "n", DatabaseType: "UInt64"}},
			Rows:    [][]any{{day, uint64(3)}, {nil, uint64(1)}},
		}, nil
	}}
	exec, err := NewExecutor(engine, model.WarehouseConfig{})
	require.NoError(t, err)

	res, err := exec.Execute(context.Background(), "SELECT day, count() AS n FROM sales GROUP BY day")
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, "2024-03-05", res.Rows[0][0])
	assert.Nil(t, res.Rows[1][0])
	assert.Regexp(t, `^execute_sql_`, engine.tasks[0].Label)
}

func TestExecutor_ExecuteWrapsEngineError(t *testing.T) {
	engine := &fakeEngine{run: func(Task) (*Job, error) {
		return nil, &EngineError{Status: "SYNTAX_ERROR (62)", Diagnostic: "bad"}
	}}
	exec, err := NewExecutor(engine, model.WarehouseConfig{})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), "SELEC 1")
	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "Query failed. Status: SYNTAX_ERROR (62). Info: bad", eerr.Error())
}

func TestExecutor_EmptyQuery(t *testing.T) {
	exec, err := NewExecutor(&fakeEngine{}, model.WarehouseConfig{})
	require.NoError(t, err)

	var verr *ValidationError
	require.ErrorAs(t, exec.ValidatePlan(context.Background(), " ; -- nothing\n"), &verr)
	assert.Equal(t, "EMPTY_QUERY", verr.Status)
}

func TestNewExecutor_RejectsBadSettings(t *testing.T) {
	_, err := NewExecutor(&fakeEngine{}, model.WarehouseConfig{DialectSettings: "novalue"})
	assert.Error(t, err)
	_, err = NewExecutor(nil, model.WarehouseConfig{})
	assert.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	cases := map[string]struct {
		in   string
		want []string
	}{
		"single":          {"SELECT 1", []string{"SELECT 1"}},
		"trailing":        {"SELECT 1;\n", []string{"SELECT 1"}},
		"quoted":          {"SELECT ';' AS s; SELECT 2", []string{"SELECT ';' AS s", "SELECT 2"}},
		"line comment":    {"SELECT 1 -- a;b\n; SELECT 2", []string{"SELECT 1 -- a;b", "SELECT 2"}},
		"block comment":   {"/* x; y */ SELECT 1", []string{"/* x; y */ SELECT 1"}},
		"backtick":        {"SELECT `a;b` FROM t", []string{"SELECT `a;b` FROM t"}},
		"only separators": {" ; ; ", nil},
		"escaped quote":   {`SELECT 'it\'s; fine'; SELECT 2`, []string{`SELECT 'it\'s; fine'`, "SELECT 2"}},
		"doubled quote":   {"SELECT 'it''s; fine'; SELECT 2", []string{"SELECT 'it''s; fine'", "SELECT 2"}},
		"dollar body": {
			"CREATE FUNCTION f() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql; SELECT f()",
			[]string{"CREATE FUNCTION f() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql", "SELECT f()"},
		},
		"tagged dollar body": {
			"SELECT $fn$ a; $$ b; $fn$ AS s; SELECT 2",
			[]string{"SELECT $fn$ a; $$ b; $fn$ AS s", "SELECT 2"},
		},
		"unterminated dollar": {"SELECT $$ a; b", []string{"SELECT $$ a; b"}},
		"positional param":    {"SELECT $1; SELECT 2", []string{"SELECT $1", "SELECT 2"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, SplitStatements(tc.in))
		})
	}
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings("max_threads=4, search_path=analytics ,use_cache=true")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"SET max_threads = 4",
		"SET search_path = 'analytics'",
		"SET use_cache = true",
	}, s.Statements())
	assert.Equal(t, map[string]any{"max_threads": "4", "search_path": "analytics", "use_cache": "true"}, s.Map())

	empty, err := ParseSettings("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseSettings("a b=1")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Run("clickhouse exception", func(t *testing.T) {
		err := Classify(&clickhouse.Exception{Code: 47, Name: "UNKNOWN_IDENTIFIER", Message: "Missing columns: 'rgn'"})
		var ee *EngineError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "UNKNOWN_IDENTIFIER (47)", ee.Status)
		assert.Equal(t, "Missing columns: 'rgn'", ee.Diagnostic)
	})

	t.Run("postgres semantic", func(t *testing.T) {
		err := Classify(&pq.Error{Code: "42703", Message: `column "rgn" does not exist`})
		var ee *EngineError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "undefined_column (42703)", ee.Status)
	})

	t.Run("postgres connectivity", func(t *testing.T) {
		err := Classify(&pq.Error{Code: "08006", Message: "connection failure"})
		assert.True(t, errx.IsTransient(err))
		assert.Equal(t, http.StatusServiceUnavailable, errx.StatusOf(err))
	})

	t.Run("duckdb binder", func(t *testing.T) {
		err := Classify(&duckdb.Error{Type: duckdb.ErrorTypeBinder, Msg: `Binder Error: Referenced column "rgn" not found`})
		var ee *EngineError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "Binder Error", ee.Status)
		assert.Equal(t, `Referenced column "rgn" not found`, ee.Diagnostic)
	})

	t.Run("deadline", func(t *testing.T) {
		assert.True(t, errx.IsTransient(Classify(context.DeadlineExceeded)))
	})

	t.Run("canceled", func(t *testing.T) {
		assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
		assert.False(t, errx.IsTransient(Classify(context.Canceled)))
	})

	t.Run("unknown", func(t *testing.T) {
		var ee *EngineError
		require.ErrorAs(t, Classify(errors.New("boom")), &ee)
		assert.Equal(t, "FAILED", ee.Status)
	})

	assert.NoError(t, Classify(nil))
}

func newMockEngine(t *testing.T) (*SQLEngine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLEngine(db, "postgres"), mock
}

func TestSQLEngine_AppliesSettingsBeforeQuery(t *testing.T) {
	engine, mock := newMockEngine(t)
	settings, err := ParseSettings("search_path=analytics")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET search_path = 'analytics'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("/* execute_sql_1 */ SELECT day, amount FROM sales")).
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("day").OfType("DATE", time.Time{}),
			sqlmock.NewColumn("amount").OfType("NUMERIC", []byte{}),
		).AddRow(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), []byte("10.25")))
	mock.ExpectRollback()

	job, err := engine.Run(context.Background(), Task{Label: "execute_sql_1", Statement: "SELECT day, amount FROM sales", Settings: settings})
	require.NoError(t, err)
	assert.Equal(t, []tabular.ColumnMeta{{Name: "day", DatabaseType: "DATE"}, {Name: "amount", DatabaseType: "NUMERIC"}}, job.Columns)
	require.Len(t, job.Rows, 1)

	res, err := tabular.Normalize(job.Columns, job.Rows)
	require.NoError(t, err)
	assert.Equal(t, []any{"2024-03-05", json.Number("10.25")}, res.Rows[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLEngine_ClassifiesDriverErrors(t *testing.T) {
	engine, mock := newMockEngine(t)
	mock.ExpectBegin()
	mock.ExpectQuery("EXPLAIN SELECT rgn FROM sales").
		WillReturnError(&pq.Error{Code: "42703", Message: `column "rgn" does not exist`})
	mock.ExpectRollback()

	_, err := engine.Run(context.Background(), Task{Statement: "EXPLAIN SELECT rgn FROM sales"})
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Diagnostic, "rgn")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLEngine_RunsSetupInOneRolledBackTransaction(t *testing.T) {
	engine, mock := newMockEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TEMP TABLE t AS SELECT region FROM sales")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("/* validate_sql_1 */ EXPLAIN SELECT * FROM t")).
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow("Seq Scan on t"))
	mock.ExpectRollback()

	_, err := engine.Run(context.Background(), Task{
		Label:     "validate_sql_1",
		Setup:     []string{"CREATE TEMP TABLE t AS SELECT region FROM sales"},
		Statement: "EXPLAIN SELECT * FROM t",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLEngine_ListTables(t *testing.T) {
	engine, mock := newMockEngine(t)
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders").AddRow("sales"))

	tables, err := engine.ListTables(context.Background(), "analytics")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "sales"}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuckDB_ValidateAndExecute(t *testing.T) {
	ctx := context.Background()
	engine, err := OpenSQLEngine(ctx, "duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	_, err = engine.DB().ExecContext(ctx, `
		CREATE TABLE sales (region VARCHAR, day DATE, amount DOUBLE);
		INSERT INTO sales VALUES ('north', DATE '2024-03-05', 10.5), (NULL, NULL, 2.0);`)
	require.NoError(t, err)

	exec, err := NewExecutor(engine, model.WarehouseConfig{QueryTimeout: time.Minute})
	require.NoError(t, err)

	err = exec.ValidatePlan(ctx, "SELECT rgn FROM sales")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Binder Error", verr.Status)
	assert.Contains(t, verr.Diagnostic, "rgn")

	require.NoError(t, exec.ValidatePlan(ctx, "SELECT region FROM sales"))

	res, err := exec.Execute(ctx, "SELECT region, day, amount FROM sales ORDER BY amount DESC")
	require.NoError(t, err)
	require.Equal(t, 2, res.RowCount)
	assert.Equal(t, []any{"north", "2024-03-05", 10.5}, res.Rows[0])
	assert.Equal(t, []any{nil, nil, 2.0}, res.Rows[1])
	assert.Equal(t, model.KindDate, res.Columns[1].Kind)

	tables, err := exec.ListTables(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, tables)
}

func TestDuckDB_DependentScript(t *testing.T) {
	ctx := context.Background()
	engine, err := OpenSQLEngine(ctx, "duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	_, err = engine.DB().ExecContext(ctx, `
		CREATE TABLE sales (region VARCHAR, amount DOUBLE);
		INSERT INTO sales VALUES ('north', 10.5), ('north', 2.0), ('south', 4.0);`)
	require.NoError(t, err)

	exec, err := NewExecutor(engine, model.WarehouseConfig{QueryTimeout: time.Minute})
	require.NoError(t, err)

	script := "CREATE TEMP TABLE t AS SELECT region, sum(amount) AS total FROM sales GROUP BY region; SELECT * FROM t ORDER BY region"
	require.NoError(t, exec.ValidatePlan(ctx, script))

	// validation leaves nothing behind, so the script runs again from scratch
	res, err := exec.Execute(ctx, script)
	require.NoError(t, err)
	require.Equal(t, 2, res.RowCount)
	assert.Equal(t, []any{"north", 12.5}, res.Rows[0])
	assert.Equal(t, []any{"south", 4.0}, res.Rows[1])

	res, err = exec.Execute(ctx, script)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)

	err = exec.ValidatePlan(ctx, "CREATE TEMP TABLE t AS SELECT region FROM sales; SELECT total FROM t")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Diagnostic, "total")
}
