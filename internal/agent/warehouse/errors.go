package warehouse

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/duckdb/duckdb-go/v2"
	"github.com/lib/pq"

	errx "github.com/Chative-data-agent/server/internal/core/error"
)

// EngineError is a semantic rejection reported by the engine.
type EngineError struct {
	Status     string
	Diagnostic string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Diagnostic)
}

// ValidationError is returned by ValidatePlan when the plan is rejected.
type ValidationError struct {
	Label      string
	Status     string
	Diagnostic string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Query failed validation. Status: %s. Info: %s", e.Status, e.Diagnostic)
}

// ExecutionError is returned by Execute when the engine rejects the query.
type ExecutionError struct {
	Label      string
	Status     string
	Diagnostic string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("Query failed. Status: %s. Info: %s", e.Status, e.Diagnostic)
}

func asEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// Classify turns a driver error into either an *EngineError or a transient
// infrastructure error. Cancellation passes through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		return &EngineError{Status: fmt.Sprintf("%s (%d)", chErr.Name, chErr.Code), Diagnostic: chErr.Message}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return errx.WrapWarehouse(err)
		}
		status := string(pqErr.Code)
		if name := pqErr.Code.Name(); name != "" {
			status = name + " (" + status + ")"
		}
		return &EngineError{Status: status, Diagnostic: pqErr.Message}
	}

	var dErr *duckdb.Error
	if errors.As(err, &dErr) {
		switch dErr.Type {
		case duckdb.ErrorTypeConnection, duckdb.ErrorTypeIO, duckdb.ErrorTypeInterrupt:
			return errx.WrapWarehouse(err)
		}
		status, diag := splitDuckDBMessage(dErr.Msg)
		return &EngineError{Status: status, Diagnostic: diag}
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return errx.WrapWarehouse(err)
	}

	return &EngineError{Status: "FAILED", Diagnostic: err.Error()}
}

// splitDuckDBMessage splits "Binder Error: ..." into status and detail.
func splitDuckDBMessage(msg string) (string, string) {
	if head, tail, ok := strings.Cut(msg, ": "); ok && strings.HasSuffix(head, "Error") {
		return head, tail
	}
	return "FAILED", msg
}
