package tabular

import (
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-data-agent/server/internal/agent/model"
)

func TestNormalizeRawDateRoundTrip(t *testing.T) {
	raw := [][]any{
		{"day", "revenue"},
		{time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), 12.5},
		{nil, nil},
	}

	res, err := NormalizeRaw(raw)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, model.KindDate, res.Columns[0].Kind)
	assert.Equal(t, model.KindFloat, res.Columns[1].Kind)
	assert.Equal(t, "2024-03-05", res.Rows[0][0])
	assert.Nil(t, res.Rows[1][0])
	assert.Equal(t, 12.5, res.Rows[0][1])
	assert.Nil(t, res.Rows[1][1])
}

func TestNormalizeUsesDeclaredTypes(t *testing.T) {
	ts := time.Date(2024, 3, 5, 13, 45, 10, 0, time.UTC)
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	name := "East"

	res, err := Normalize(
		[]ColumnMeta{
			{Name: "created_at", DatabaseType: "Nullable(DateTime64(3, 'UTC'))"},
			{Name: "day", DatabaseType: "Date32"},
			{Name: "region", DatabaseType: "LowCardinality(String)"},
			{Name: "orders", DatabaseType: "UInt64"},
			{Name: "amount", DatabaseType: "NUMERIC"},
		},
		[][]any{
			{&ts, day, &name, uint64(3), "10.25"},
			{(*time.Time)(nil), nil, sql.NullString{}, uint64(0), nil},
		},
	)
	require.NoError(t, err)

	kinds := []model.ColumnKind{}
	for _, c := range res.Columns {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []model.ColumnKind{model.KindTimestamp, model.KindDate, model.KindText, model.KindInteger, model.KindDecimal}, kinds)
	assert.Equal(t, []any{"2024-03-05T13:45:10Z", "2024-03-05", "East", uint64(3), json.Number("10.25")}, res.Rows[0])
	assert.Equal(t, []any{nil, nil, nil, uint64(0), nil}, res.Rows[1])
}

type decimalText string

func (d decimalText) String() string { return string(d) }

func TestNormalizeKeepsDecimalDigits(t *testing.T) {
	res, err := Normalize(
		[]ColumnMeta{{Name: "amount", DatabaseType: "Decimal(38, 18)"}},
		[][]any{
			{[]byte("12345678901234567890.123456789012345678")},
			{decimalText("-0.000000000000000001")},
			{"NaN"},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, json.Number("12345678901234567890.123456789012345678"), res.Rows[0][0])
	assert.Equal(t, json.Number("-0.000000000000000001"), res.Rows[1][0])
	assert.Equal(t, "NaN", res.Rows[2][0])

	csv, err := CSV(res, -1)
	require.NoError(t, err)
	assert.Contains(t, csv, "12345678901234567890.123456789012345678")

	encoded, err := json.Marshal(res.Rows[0])
	require.NoError(t, err)
	assert.Equal(t, `[12345678901234567890.123456789012345678]`, string(encoded))
}

func TestNormalizeInfersTemporalFromValues(t *testing.T) {
	res, err := Normalize(
		[]ColumnMeta{{Name: "month"}},
		[][]any{{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, {time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}},
	)
	require.NoError(t, err)
	assert.Equal(t, model.KindDate, res.Columns[0].Kind)
	assert.Equal(t, "2024-02-01", res.Rows[1][0])
}

func TestNormalizeRejectsRaggedRows(t *testing.T) {
	_, err := Normalize([]ColumnMeta{{Name: "a"}, {Name: "b"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0 has 1 values, expected 2")

	_, err = NormalizeRaw(nil)
	assert.Error(t, err)
	_, err = NormalizeRaw([][]any{{1}})
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	tests := map[string]model.ColumnKind{
		"Date":                     model.KindDate,
		"DATE":                     model.KindDate,
		"DateTime":                 model.KindTimestamp,
		"TIMESTAMPTZ":              model.KindTimestamp,
		"TIMESTAMP WITH TIME ZONE": model.KindTimestamp,
		"Int32":                    model.KindInteger,
		"BIGINT":                   model.KindInteger,
		"INT8":                     model.KindInteger,
		"Decimal(18, 2)":           model.KindDecimal,
		"NUMERIC(38,10)":           model.KindDecimal,
		"DOUBLE PRECISION":         model.KindFloat,
		"FLOAT8":                   model.KindFloat,
		"Bool":                     model.KindBoolean,
		"VARCHAR":                  model.KindText,
		"POINT":                    model.KindText,
		"INTERVAL":                 model.KindText,
		"":                         model.KindText,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, KindOf(in))
		})
	}
}

func sampleResult() *model.QueryResult {
	return &model.QueryResult{
		Columns: []model.Column{
			{Name: "region", Kind: model.KindText},
			{Name: "revenue", Kind: model.KindFloat},
			{Name: "day", Kind: model.KindDate},
		},
		Rows: [][]any{
			{"East", 10.5, "2024-03-05"},
			{"West, North", nil, nil},
		},
		RowCount: 2,
	}
}

func TestCSVAndSummary(t *testing.T) {
	out, err := CSV(sampleResult(), -1)
	require.NoError(t, err)
	assert.Equal(t, "region,revenue,day\nEast,10.5,2024-03-05\n\"West, North\",,\n", out)

	summary, err := Summary("abc.png", sampleResult())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "chart_image_id: `abc.png`\n\n**DATA**:\n\n```csv\n"))

	big := &model.QueryResult{Columns: []model.Column{{Name: "n", Kind: model.KindInteger}}}
	for i := 0; i < 60; i++ {
		big.Rows = append(big.Rows, []any{int64(i)})
	}
	big.RowCount = 60
	summary, err = Summary("", big)
	require.NoError(t, err)
	assert.Contains(t, summary, "**FIRST 50 OF 60 ROWS OF DATA**")
	assert.Equal(t, 1+50, strings.Count(strings.SplitN(summary, "```csv\n", 2)[1], "\n")-1)
}

func TestPreviewAndDTypes(t *testing.T) {
	out := Preview(sampleResult(), 1)
	assert.Contains(t, out, "region")
	assert.Contains(t, out, "East")
	assert.NotContains(t, out, "West")

	assert.Equal(t, "region   text\nrevenue  float\nday      date", DTypes(sampleResult()))
}

func TestEncodeParquet(t *testing.T) {
	data, err := EncodeParquet(sampleResult())
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))

	exact := &model.QueryResult{
		Columns:  []model.Column{{Name: "amount", Kind: model.KindDecimal}},
		Rows:     [][]any{{json.Number("12345678901234567890.12")}, {nil}},
		RowCount: 2,
	}
	data, err = EncodeParquet(exact)
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "type=BYTE_ARRAY, convertedtype=UTF8", parquetType(model.KindDecimal))
	assert.Equal(t, "12345678901234567890.12", parquetValue(model.KindDecimal, exact.Rows[0][0]))
}

func TestParquetNames(t *testing.T) {
	assert.Equal(t, []string{"total_revenue", "c_2024", "Region", "region_1", "c_"}, parquetNames([]string{"total revenue", "2024", "Region", "region", ""}))
}
