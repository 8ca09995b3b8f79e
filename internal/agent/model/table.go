package model

// ColumnKind is the declared type tag assigned to a result column once, at
// normalization time, from the engine's reported type.
type ColumnKind string

const (
	KindText      ColumnKind = "text"
	KindInteger   ColumnKind = "integer"
	KindFloat     ColumnKind = "float"
	KindDecimal   ColumnKind = "decimal"
	KindBoolean   ColumnKind = "boolean"
	KindDate      ColumnKind = "date"
	KindTimestamp ColumnKind = "timestamp"
)

// IsTemporal reports whether values of the column are serialized as ISO-8601.
func (k ColumnKind) IsTemporal() bool {
	return k == KindDate || k == KindTimestamp
}

// IsNumeric reports integer, float and decimal columns.
func (k ColumnKind) IsNumeric() bool {
	return k == KindInteger || k == KindFloat || k == KindDecimal
}

type Column struct {
	Name string `json:"name"`
	// DatabaseType is the engine type name, e.g. Nullable(Date).
	DatabaseType string     `json:"database_type,omitempty"`
	Kind         ColumnKind `json:"kind"`
}

// QueryResult is an immutable normalized table. Rows have the arity of Columns.
type QueryResult struct {
	Columns  []Column `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// ColumnNames lists column names in order.
func (r *QueryResult) ColumnNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column or -1.
func (r *QueryResult) ColumnIndex(name string) int {
	if r == nil {
		return -1
	}
	for i, c := range r.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Records returns the rows as column-keyed maps, the shape of inline chart data.
func (r *QueryResult) Records() []map[string]any {
	if r == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			if i < len(row) {
				rec[c.Name] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}
