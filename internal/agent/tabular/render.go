package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/Chative-data-agent/server/internal/agent/model"
)

// SummaryRowLimit caps the CSV block of the answer summary.
const SummaryRowLimit = 50

// Cell formats a normalized value for text output. Nulls render empty.
func Cell(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(tv), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(tv)
	default:
		return fmt.Sprint(tv)
	}
}

// Head returns at most n rows.
func Head(r *model.QueryResult, n int) [][]any {
	if r == nil {
		return nil
	}
	if n < 0 || n > len(r.Rows) {
		n = len(r.Rows)
	}
	return r.Rows[:n]
}

// DTypes lists "name  kind" lines, one per column.
func DTypes(r *model.QueryResult) string {
	if r == nil {
		return ""
	}
	width := 0
	for _, c := range r.Columns {
		width = max(width, len(c.Name))
	}
	var b strings.Builder
	for _, c := range r.Columns {
		fmt.Fprintf(&b, "%-*s  %s\n", width, c.Name, c.Kind)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Preview renders the first n rows as an aligned text table.
func Preview(r *model.QueryResult, n int) string {
	if r == nil {
		return ""
	}
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(r.ColumnNames())
	for _, row := range Head(r, n) {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = Cell(v)
		}
		table.Append(cells)
	}
	table.Render()
	return buf.String()
}

// CSV writes the header and the first n rows (all rows when n < 0).
func CSV(r *model.QueryResult, n int) (string, error) {
	if r == nil {
		return "", nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(r.ColumnNames()); err != nil {
		return "", err
	}
	for _, row := range Head(r, n) {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = Cell(v)
		}
		if err := w.Write(cells); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Summary renders the hand-off text returned with a chart: the image
// reference followed by the data, truncated to SummaryRowLimit rows.
func Summary(imageName string, r *model.QueryResult) (string, error) {
	data, err := CSV(r, SummaryRowLimit)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if imageName != "" {
		fmt.Fprintf(&b, "chart_image_id: `%s`\n\n", imageName)
	}
	if r != nil && r.RowCount > SummaryRowLimit {
		fmt.Fprintf(&b, "**FIRST %d OF %d ROWS OF DATA**:\n\n", SummaryRowLimit, r.RowCount)
	} else {
		b.WriteString("**DATA**:\n\n")
	}
	b.WriteString("```csv\n")
	b.WriteString(data)
	b.WriteString("```\n")
	return b.String(), nil
}
