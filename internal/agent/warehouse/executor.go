// Package warehouse submits SQL to the analytical engine. Every call is a
// single blocking round trip; retries belong to the callers.
package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/tabular"
	"github.com/Chative-data-agent/server/internal/metrics"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// Task is one script submission. Setup and Statement share a single engine
// session, so Statement sees temp tables and settings created by Setup.
type Task struct {
	// Label names the job on the engine side, e.g. execute_sql_<hex>.
	Label     string
	Setup     []string
	Statement string
	Settings  Settings
}

// Job is the successful output of a Task.
type Job struct {
	Columns []tabular.ColumnMeta
	Rows    [][]any
}

// Engine runs statements. Semantic failures are returned as *EngineError,
// connectivity failures are marked transient through errx.
type Engine interface {
	Name() string
	Run(ctx context.Context, task Task) (*Job, error)
	ListTables(ctx context.Context, database string) ([]string, error)
	Close() error
}

// Executor is the query gateway used by the SQL and chart loops.
type Executor struct {
	engine   Engine
	settings Settings
	timeout  time.Duration
}

func NewExecutor(engine Engine, cfg model.WarehouseConfig) (*Executor, error) {
	if engine == nil {
		return nil, fmt.Errorf("warehouse engine is nil")
	}
	settings, err := ParseSettings(cfg.DialectSettings)
	if err != nil {
		return nil, fmt.Errorf("parse dialect settings: %w", err)
	}
	return &Executor{engine: engine, settings: settings, timeout: cfg.QueryTimeout}, nil
}

// Engine exposes the underlying engine, mostly for shutdown.
func (e *Executor) Engine() Engine {
	return e.engine
}

// Execute runs the script sql in one session and returns the normalized
// result of its last statement.
func (e *Executor) Execute(ctx context.Context, sql string) (*model.QueryResult, error) {
	statements := SplitStatements(sql)
	if len(statements) == 0 {
		return nil, &ExecutionError{Status: "EMPTY_QUERY", Diagnostic: "query is empty"}
	}
	label := newLabel("execute_sql")

	job, err := e.run(ctx, "execute", scriptTask(label, statements, "", e.settings))
	if err != nil {
		if ee, ok := asEngineError(err); ok {
			return nil, &ExecutionError{Label: label, Status: ee.Status, Diagnostic: ee.Diagnostic}
		}
		return nil, err
	}

	res, err := tabular.Normalize(job.Columns, job.Rows)
	if err != nil {
		return nil, fmt.Errorf("normalize result of %s: %w", label, err)
	}
	logx.Debug().Str("label", label).Int("statements", len(statements)).Int("rows", res.RowCount).Int("columns", len(res.Columns)).Msg("query executed")
	return res, nil
}

// ValidatePlan asks the engine to plan the last statement of sql after the
// earlier ones ran in the same session. A nil error means the plan is valid.
func (e *Executor) ValidatePlan(ctx context.Context, sql string) error {
	statements := SplitStatements(sql)
	if len(statements) == 0 {
		return &ValidationError{Status: "EMPTY_QUERY", Diagnostic: "query is empty"}
	}
	label := newLabel("validate_sql")

	_, err := e.run(ctx, "validate", scriptTask(label, statements, "EXPLAIN ", e.settings))
	if err != nil {
		if ee, ok := asEngineError(err); ok {
			return &ValidationError{Label: label, Status: ee.Status, Diagnostic: ee.Diagnostic}
		}
		return err
	}
	return nil
}

func scriptTask(label string, statements []string, prefix string, settings Settings) Task {
	last := len(statements) - 1
	return Task{
		Label:     label,
		Setup:     statements[:last],
		Statement: prefix + statements[last],
		Settings:  settings,
	}
}

// ListTables returns the table names that exist in database.
func (e *Executor) ListTables(ctx context.Context, database string) ([]string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.engine.ListTables(ctx, database)
}

func (e *Executor) run(ctx context.Context, op string, task Task) (*Job, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	job, err := e.engine.Run(ctx, task)
	metrics.ObserveWarehouseCall(e.engine.Name(), op, time.Since(start), err)
	if err != nil {
		logx.Debug().Err(err).Str("label", task.Label).Str("engine", e.engine.Name()).Msg("warehouse task failed")
	}
	return job, err
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func newLabel(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SplitStatements splits sql on semicolons outside quotes, dollar-quoted
// bodies and comments, dropping empty statements. Backslash escapes a quote
// inside a quoted string.
func SplitStatements(sql string) []string {
	var (
		out   []string
		b     strings.Builder
		quote rune
		line  bool
		block bool
		runes = []rune(sql)
		flush = func() {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		switch {
		case line:
			if r == '\n' {
				line = false
			}
		case block:
			if r == '*' && next == '/' {
				block = false
				b.WriteRune(r)
				b.WriteRune(next)
				i++
				continue
			}
		case quote != 0:
			if r == '\\' && next != 0 {
				b.WriteRune(r)
				b.WriteRune(next)
				i++
				continue
			}
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '$':
			if end, ok := dollarTag(runes, i); ok {
				body := closeDollar(runes, end+1, runes[i:end+1])
				b.WriteString(string(runes[i:body]))
				i = body - 1
				continue
			}
		case r == '-' && next == '-':
			line = true
		case r == '/' && next == '*':
			block = true
		case r == ';':
			flush()
			continue
		}
		b.WriteRune(r)
	}
	flush()
	return out
}

// dollarTag reports whether a dollar-quote delimiter ($$ or $tag$) starts at
// i and returns the index of its closing '$'. Positional parameters such as
// $1 are not delimiters.
func dollarTag(runes []rune, i int) (int, bool) {
	for j := i + 1; j < len(runes); j++ {
		r := runes[j]
		switch {
		case r == '$':
			return j, true
		case r == '_' || unicode.IsLetter(r):
		case unicode.IsDigit(r) && j > i+1:
		default:
			return 0, false
		}
	}
	return 0, false
}

// closeDollar returns the index just past the delimiter that closes a body
// starting at from, or len(runes) when the body is unterminated.
func closeDollar(runes []rune, from int, delim []rune) int {
	for j := from; j+len(delim) <= len(runes); j++ {
		if string(runes[j:j+len(delim)]) == string(delim) {
			return j + len(delim)
		}
	}
	return len(runes)
}
