// Package tabular turns engine rows into the uniform QueryResult shape and
// renders it for prompts, terminals and artifacts.
package tabular

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/Chative-data-agent/server/internal/agent/model"
)

const dateLayout = "2006-01-02"

// ColumnMeta is a result column as reported by the engine.
type ColumnMeta struct {
	Name         string
	DatabaseType string
}

// Normalize builds a QueryResult from engine-separated columns and rows. Each
// column gets its kind from the declared database type; temporal values become
// ISO-8601 strings, decimals keep their exact digits as json.Number and nulls
// stay nil.
func Normalize(columns []ColumnMeta, rows [][]any) (*model.QueryResult, error) {
	res := &model.QueryResult{
		Columns: make([]model.Column, len(columns)),
		Rows:    make([][]any, 0, len(rows)),
	}
	for i, c := range columns {
		res.Columns[i] = model.Column{Name: c.Name, DatabaseType: c.DatabaseType, Kind: KindOf(c.DatabaseType)}
	}
	for i := range res.Columns {
		if res.Columns[i].Kind == model.KindText {
			if k, ok := inferKind(rows, i); ok && k.IsTemporal() {
				res.Columns[i].Kind = k
			}
		}
	}

	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", r, len(row), len(columns))
		}
		out := make([]any, len(row))
		for i, v := range row {
			out[i] = normalizeValue(res.Columns[i].Kind, v)
		}
		res.Rows = append(res.Rows, out)
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// NormalizeRaw accepts the header-first form: raw[0] holds column names and
// the remaining entries are rows. Kinds are inferred from values.
func NormalizeRaw(raw [][]any) (*model.QueryResult, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("raw result has no header row")
	}
	columns := make([]ColumnMeta, len(raw[0]))
	for i, h := range raw[0] {
		name, ok := h.(string)
		if !ok {
			return nil, fmt.Errorf("header cell %d is %T, expected string", i, h)
		}
		columns[i] = ColumnMeta{Name: name}
	}
	rows := raw[1:]
	for i := range columns {
		if k, ok := inferKind(rows, i); ok {
			columns[i].DatabaseType = string(k)
		}
	}
	return Normalize(columns, rows)
}

// KindOf maps an engine type name to a column kind. Wrappers such as
// Nullable(...) and LowCardinality(...) are ignored.
func KindOf(databaseType string) model.ColumnKind {
	t := strings.ToUpper(strings.TrimSpace(databaseType))
	for _, wrapper := range []string{"NULLABLE(", "LOWCARDINALITY("} {
		for strings.HasPrefix(t, wrapper) && strings.HasSuffix(t, ")") {
			t = strings.TrimSuffix(strings.TrimPrefix(t, wrapper), ")")
		}
	}
	if i := strings.IndexAny(t, "( "); i > 0 {
		t = t[:i]
	}

	switch {
	case t == "":
		return model.KindText
	case strings.HasPrefix(t, "DATETIME"), strings.HasPrefix(t, "TIMESTAMP"):
		return model.KindTimestamp
	case strings.HasPrefix(t, "DATE"):
		return model.KindDate
	case strings.HasPrefix(t, "INTERVAL"):
		return model.KindText
	case strings.HasPrefix(t, "INT"), strings.HasPrefix(t, "UINT"), integerTypes[t]:
		return model.KindInteger
	case strings.HasPrefix(t, "DECIMAL"), strings.HasPrefix(t, "NUMERIC"):
		return model.KindDecimal
	case strings.HasPrefix(t, "FLOAT"), strings.HasPrefix(t, "DOUBLE"), t == "REAL":
		return model.KindFloat
	case strings.HasPrefix(t, "BOOL"):
		return model.KindBoolean
	default:
		return model.KindText
	}
}

var integerTypes = map[string]bool{
	"BIGINT": true, "SMALLINT": true, "TINYINT": true, "MEDIUMINT": true,
	"UBIGINT": true, "USMALLINT": true, "UTINYINT": true,
	"HUGEINT": true, "UHUGEINT": true, "SERIAL": true, "BIGSERIAL": true,
}

// inferKind looks at the non-null values of column i.
func inferKind(rows [][]any, i int) (model.ColumnKind, bool) {
	var kind model.ColumnKind
	allMidnight := true
	for _, row := range rows {
		if i >= len(row) {
			continue
		}
		v := deref(row[i])
		if v == nil {
			continue
		}
		var k model.ColumnKind
		switch tv := v.(type) {
		case time.Time:
			k = model.KindTimestamp
			if !isMidnight(tv) {
				allMidnight = false
			}
		case bool:
			k = model.KindBoolean
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			k = model.KindInteger
		case float32, float64:
			k = model.KindFloat
		default:
			k = model.KindText
		}
		if kind == "" {
			kind = k
		} else if kind != k {
			return model.KindText, true
		}
	}
	if kind == "" {
		return "", false
	}
	if kind == model.KindTimestamp && allMidnight {
		return model.KindDate, true
	}
	return kind, true
}

func normalizeValue(kind model.ColumnKind, v any) any {
	v = deref(v)
	switch tv := v.(type) {
	case nil:
		return nil
	case time.Time:
		if kind == model.KindDate {
			return tv.Format(dateLayout)
		}
		return tv.Format(time.RFC3339Nano)
	case []byte:
		return normalizeValue(kind, string(tv))
	case string:
		return numericText(kind, tv)
	case fmt.Stringer:
		if kind.IsNumeric() || kind == model.KindText {
			return numericText(kind, tv.String())
		}
	}
	return v
}

// numericText parses s for numeric columns. Decimals stay exact.
func numericText(kind model.ColumnKind, s string) any {
	switch {
	case kind == model.KindDecimal:
		if isJSONNumber(s) {
			return json.Number(s)
		}
	case kind.IsNumeric():
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

// deref unwraps pointers and driver.Valuer values such as sql.NullString.
func deref(v any) any {
	for i := 0; i < 4 && v != nil; i++ {
		if valuer, ok := v.(driver.Valuer); ok {
			inner, err := valuer.Value()
			if err != nil {
				return v
			}
			v = inner
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		if t, ok := v.(*time.Time); ok {
			v = *t
			continue
		}
		if _, ok := v.(fmt.Stringer); ok {
			return v
		}
		v = rv.Elem().Interface()
	}
	return v
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}
