package chart

import (
	"fmt"
	"strings"

	"github.com/Chative-data-agent/server/internal/agent/model"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// SelectionSuffix marks a parameter that filters on the column it prefixes.
const SelectionSuffix = "__selection"

// AllLabel labels the null option that clears the filter.
const AllLabel = "[All]"

// EnhanceParameters binds every <column>__selection parameter to a select
// input listing the distinct values of that column, led by a null "[All]"
// option. A null already among the values keeps its position. s is not modified.
func EnhanceParameters(s Spec, r *model.QueryResult) Spec {
	out := Spec(cloneValue(map[string]any(s)).(map[string]any))
	params, _ := out["params"].([]any)
	for _, p := range params {
		param, ok := p.(map[string]any)
		if !ok {
			continue
		}
		name, _ := param["name"].(string)
		column, ok := strings.CutSuffix(name, SelectionSuffix)
		if !ok {
			continue
		}
		idx := r.ColumnIndex(column)
		if idx < 0 {
			logx.Debug().Str("param", name).Str("column", column).Msg("selection parameter has no matching column")
			continue
		}

		options := distinct(r, idx)
		noneIndex := -1
		for i, v := range options {
			if v == nil {
				noneIndex = i
				break
			}
		}
		if noneIndex < 0 {
			options = append([]any{nil}, options...)
			noneIndex = 0
		}
		labels := make([]any, len(options))
		copy(labels, options)
		labels[noneIndex] = AllLabel

		param["value"] = nil
		param["bind"] = map[string]any{
			"input":   "select",
			"options": options,
			"labels":  labels,
			"name":    column,
		}
	}
	return out
}

// distinct returns the values of column idx in order of first appearance.
func distinct(r *model.QueryResult, idx int) []any {
	seen := make(map[string]bool)
	var out []any
	for _, row := range r.Rows {
		if idx >= len(row) {
			continue
		}
		v := row[idx]
		key := fmt.Sprintf("%T:%v", v, v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
