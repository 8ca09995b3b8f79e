package chart

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Chative-data-agent/server/internal/agent/model"
)

var markTypes = []string{
	"arc", "area", "bar", "boxplot", "circle", "errorband", "errorbar", "geoshape",
	"image", "line", "point", "rect", "rule", "square", "text", "tick", "trail",
}

// Transforms whose output fields cannot be known without running them.
var opaqueTransforms = []string{"pivot", "lookup", "density", "loess", "regression", "quantile", "extent"}

var (
	shapeOnce     sync.Once
	shapeResolved *jsonschema.Resolved
	shapeErr      error
)

func shapeSchema() (*jsonschema.Resolved, error) {
	shapeOnce.Do(func() {
		object := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "object"} }
		objects := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "array", Items: object()} }
		size := func() *jsonschema.Schema { return &jsonschema.Schema{Types: []string{"number", "string", "object"}} }

		s := &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"$schema":   {Type: "string"},
				"mark":      {Types: []string{"string", "object"}},
				"encoding":  object(),
				"layer":     objects(),
				"hconcat":   objects(),
				"vconcat":   objects(),
				"concat":    objects(),
				"transform": objects(),
				"data":      object(),
				"spec":      object(),
				"facet":     object(),
				"repeat":    {Types: []string{"array", "object"}},
				"width":     size(),
				"height":    size(),
				"params": {
					Type: "array",
					Items: &jsonschema.Schema{
						Type:       "object",
						Required:   []string{"name"},
						Properties: map[string]*jsonschema.Schema{"name": {Type: "string"}},
					},
				},
			},
			AnyOf: []*jsonschema.Schema{
				{Required: []string{"mark"}},
				{Required: []string{"layer"}},
				{Required: []string{"hconcat"}},
				{Required: []string{"vconcat"}},
				{Required: []string{"concat"}},
				{Required: []string{"spec"}},
			},
		}
		shapeResolved, shapeErr = s.Resolve(nil)
	})
	return shapeResolved, shapeErr
}

// DryRender checks s without rows: its shape, its marks and that every field
// it encodes is a column of r or an output of one of its transforms.
func DryRender(s Spec, r *model.QueryResult) error {
	resolved, err := shapeSchema()
	if err != nil {
		return fmt.Errorf("chart shape schema: %w", err)
	}
	if err := resolved.Validate(map[string]any(s)); err != nil {
		return &RenderError{Kind: KindSchemaValidation, Message: err.Error()}
	}
	if err := checkMarks(map[string]any(s)); err != nil {
		return err
	}

	fields, opaque := derivedFields(map[string]any(s))
	if opaque {
		return nil
	}
	for _, c := range r.ColumnNames() {
		fields[c] = true
	}
	for _, ref := range encodedFields(map[string]any(s)) {
		if !knownField(ref, fields) {
			return &RenderError{
				Kind:    KindFieldNotFound,
				Message: fmt.Sprintf("field %q is not a column of the result. Available columns: %s", ref, strings.Join(r.ColumnNames(), ", ")),
			}
		}
	}
	return nil
}

func checkMarks(node map[string]any) error {
	if mark, ok := node["mark"]; ok {
		var name string
		switch m := mark.(type) {
		case string:
			name = m
		case map[string]any:
			name, _ = m["type"].(string)
		}
		if !slices.Contains(markTypes, name) {
			return &RenderError{
				Kind:    KindSchemaValidation,
				Message: fmt.Sprintf("unknown mark type %q. Use one of: %s", name, strings.Join(markTypes, ", ")),
			}
		}
	}
	for _, key := range []string{"layer", "hconcat", "vconcat", "concat"} {
		children, _ := node[key].([]any)
		for _, c := range children {
			if child, ok := c.(map[string]any); ok {
				if err := checkMarks(child); err != nil {
					return err
				}
			}
		}
	}
	if child, ok := node["spec"].(map[string]any); ok {
		return checkMarks(child)
	}
	return nil
}

// derivedFields collects the fields created by transforms anywhere in the
// spec. opaque is true when a transform's output cannot be predicted.
func derivedFields(node map[string]any) (map[string]bool, bool) {
	fields := map[string]bool{}
	opaque := false
	walkNodes(node, func(n map[string]any) {
		transforms, _ := n["transform"].([]any)
		for _, t := range transforms {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			for _, op := range opaqueTransforms {
				if _, ok := tm[op]; ok {
					opaque = true
				}
			}
			collectAs(tm["as"], fields)
			if _, ok := tm["fold"]; ok && tm["as"] == nil {
				fields["key"], fields["value"] = true, true
			}
			for _, key := range []string{"aggregate", "window", "joinaggregate"} {
				items, _ := tm[key].([]any)
				for _, it := range items {
					if im, ok := it.(map[string]any); ok {
						collectAs(im["as"], fields)
					}
				}
			}
			if _, ok := tm["bin"]; ok {
				if as, ok := tm["as"].(string); ok {
					fields[as+"_end"] = true
				}
			}
		}
	})
	return fields, opaque
}

func collectAs(v any, fields map[string]bool) {
	switch as := v.(type) {
	case string:
		fields[as] = true
	case []any:
		for _, a := range as {
			if s, ok := a.(string); ok {
				fields[s] = true
			}
		}
	}
}

// encodedFields lists the string field references of every encoding channel
// and facet, sorted and without duplicates.
func encodedFields(node map[string]any) []string {
	seen := map[string]bool{}
	add := func(def any) {
		switch d := def.(type) {
		case map[string]any:
			if f, ok := d["field"].(string); ok && f != "" {
				seen[f] = true
			}
		case []any:
			for _, e := range d {
				if m, ok := e.(map[string]any); ok {
					if f, ok := m["field"].(string); ok && f != "" {
						seen[f] = true
					}
				}
			}
		}
	}
	walkNodes(node, func(n map[string]any) {
		if enc, ok := n["encoding"].(map[string]any); ok {
			for _, def := range enc {
				add(def)
			}
		}
		if facet, ok := n["facet"].(map[string]any); ok {
			add(facet)
			for _, key := range []string{"row", "column"} {
				add(facet[key])
			}
		}
	})
	refs := make([]string, 0, len(seen))
	for f := range seen {
		refs = append(refs, f)
	}
	sort.Strings(refs)
	return refs
}

func knownField(ref string, fields map[string]bool) bool {
	if fields[ref] || strings.Contains(ref, `\`) {
		return true
	}
	// Nested access such as "address.city".
	if head, _, ok := strings.Cut(ref, "."); ok {
		return fields[head]
	}
	return false
}

func walkNodes(node map[string]any, fn func(map[string]any)) {
	fn(node)
	for _, key := range []string{"layer", "hconcat", "vconcat", "concat"} {
		children, _ := node[key].([]any)
		for _, c := range children {
			if child, ok := c.(map[string]any); ok {
				walkNodes(child, fn)
			}
		}
	}
	if child, ok := node["spec"].(map[string]any); ok {
		walkNodes(child, fn)
	}
}
