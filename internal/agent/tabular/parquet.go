package tabular

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/xitongsys/parquet-go/writer"

	"github.com/Chative-data-agent/server/internal/agent/model"
)

type parquetSchema struct {
	Tag    string         `json:"Tag"`
	Fields []parquetField `json:"Fields"`
}

type parquetField struct {
	Tag string `json:"Tag"`
}

// EncodeParquet serializes the result table. Temporal columns are stored as
// their ISO-8601 strings and decimals as their exact text.
func EncodeParquet(r *model.QueryResult) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil result")
	}
	names := parquetNames(r.ColumnNames())

	sch := parquetSchema{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for i, c := range r.Columns {
		sch.Fields = append(sch.Fields, parquetField{Tag: "name=" + names[i] + ", " + parquetType(c.Kind) + ", repetitiontype=OPTIONAL"})
	}
	schemaJSON, err := json.Marshal(sch)
	if err != nil {
		return nil, fmt.Errorf("marshal parquet schema: %w", err)
	}

	var buf bytes.Buffer
	pw, err := writer.NewJSONWriterFromWriter(string(schemaJSON), &buf, 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	for i, row := range r.Rows {
		rec := make(map[string]any, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			rec[names[j]] = parquetValue(r.Columns[j].Kind, v)
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal row %d: %w", i, err)
		}
		if err := pw.Write(string(line)); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet file: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetType(k model.ColumnKind) string {
	switch k {
	case model.KindInteger:
		return "type=INT64"
	case model.KindFloat:
		return "type=DOUBLE"
	case model.KindBoolean:
		return "type=BOOLEAN"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

func parquetValue(k model.ColumnKind, v any) any {
	switch k {
	case model.KindInteger, model.KindFloat, model.KindBoolean:
		return v
	default:
		return Cell(v)
	}
}

// parquetNames maps column names onto unique identifiers the schema tags accept.
func parquetNames(cols []string) []string {
	out := make([]string, len(cols))
	seen := map[string]int{}
	for i, c := range cols {
		name := strings.Map(func(r rune) rune {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
				return r
			}
			return '_'
		}, c)
		if name == "" || unicode.IsDigit(rune(name[0])) {
			name = "c_" + name
		}
		if n := seen[strings.ToLower(name)]; n > 0 {
			seen[strings.ToLower(name)] = n + 1
			name = fmt.Sprintf("%s_%d", name, n)
		} else {
			seen[strings.ToLower(name)] = 1
		}
		out[i] = name
	}
	return out
}
