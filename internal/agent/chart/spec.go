// Package chart designs, validates, renders and critiques Vega-Lite charts
// for a query result.
package chart

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Chative-data-agent/server/internal/agent/graph/parsers"
	"github.com/Chative-data-agent/server/internal/agent/model"
)

// Kinds of RenderError. They are shown to the model verbatim.
const (
	KindJSONDecode       = "JSONDecodeError"
	KindSchemaValidation = "SchemaValidationError"
	KindFieldNotFound    = "FieldNotFoundError"
	KindUnchangedSpec    = "UnchangedSpecError"
	KindRender           = "RenderError"
)

// RenderError is a chart the model can repair: it did not parse, failed the
// dry render or the renderer rejected it.
type RenderError struct {
	Kind    string
	Message string
}

func (e *RenderError) Error() string {
	return e.Kind + ": " + e.Message
}

// Spec is a decoded Vega-Lite document.
type Spec map[string]any

// ParseSpec extracts the JSON object from a model reply.
func ParseSpec(text string) (Spec, error) {
	raw, err := parsers.ExtractJSONObject(text)
	if err != nil {
		return nil, &RenderError{Kind: KindJSONDecode, Message: err.Error()}
	}
	var spec Spec
	if err := parsers.DecodeObject(raw, &spec); err != nil {
		return nil, &RenderError{Kind: KindJSONDecode, Message: err.Error()}
	}
	if spec == nil {
		return nil, &RenderError{Kind: KindJSONDecode, Message: "chart is null"}
	}
	return spec, nil
}

// StripData returns a copy of s with inline data removed: data becomes
// {"values": []} and datasets is dropped.
func StripData(s Spec) Spec {
	out := Spec(cloneValue(map[string]any(s)).(map[string]any))
	out["data"] = map[string]any{"values": []any{}}
	delete(out, "datasets")
	return out
}

// WithData returns a copy of s bound to the rows of r.
func WithData(s Spec, r *model.QueryResult) Spec {
	out := Spec(cloneValue(map[string]any(s)).(map[string]any))
	values := make([]any, 0, r.RowCount)
	for _, rec := range r.Records() {
		values = append(values, rec)
	}
	out["data"] = map[string]any{"values": values}
	return out
}

// JSON renders s indented, the form stored in .vg artifacts.
func (s Spec) JSON() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(map[string]any(s)); err != nil {
		return "", fmt.Errorf("encode chart: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// canonical is a key-sorted compact form used to compare designs.
func (s Spec) canonical() string {
	b, err := json.Marshal(map[string]any(s))
	if err != nil {
		return ""
	}
	return string(b)
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = cloneValue(e)
		}
		return out
	case Spec:
		return cloneValue(map[string]any(tv))
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
