// Package parsers extracts structured payloads from model replies.
package parsers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Chative-data-agent/server/internal/agent/model"
)

const maxErrSnippet = 200

// ParseError reports a reply that does not hold the expected payload.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (near %q)", e.Reason, e.Snippet)
}

var sqlFence = regexp.MustCompile("(?s)```(?:sql|SQL)?[ \t]*\r?\n(.*?)```")

// ExtractSQL returns the body of the first fenced code block, or the whole
// reply when there is none. The result is not checked for being SQL.
func ExtractSQL(text string) string {
	if m := sqlFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// ExtractJSONObject returns the text between the first '{' and the last '}'.
func ExtractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", &ParseError{Reason: "reply holds no JSON object", Snippet: snippet(text)}
	}
	return text[start : end+1], nil
}

// DecodeObject decodes raw into dst, rejecting unknown fields and trailing data.
func DecodeObject(raw string, dst any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ParseError{Reason: "invalid JSON: " + err.Error(), Snippet: snippet(raw)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &ParseError{Reason: "unexpected data after JSON object", Snippet: snippet(raw)}
	}
	return nil
}

var (
	evaluationSchemaOnce sync.Once
	evaluationSchema     *jsonschema.Resolved
	evaluationSchemaErr  error
)

func resolvedEvaluationSchema() (*jsonschema.Resolved, error) {
	evaluationSchemaOnce.Do(func() {
		s, err := jsonschema.For[model.EvaluationResult](nil)
		if err != nil {
			evaluationSchemaErr = err
			return
		}
		evaluationSchema, evaluationSchemaErr = s.Resolve(nil)
	})
	return evaluationSchema, evaluationSchemaErr
}

// ParseEvaluation extracts the critique verdict {"approved": bool, "reason": string}.
func ParseEvaluation(text string) (model.EvaluationResult, error) {
	var out model.EvaluationResult
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return out, err
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return out, &ParseError{Reason: "invalid JSON: " + err.Error(), Snippet: snippet(raw)}
	}
	resolved, err := resolvedEvaluationSchema()
	if err != nil {
		return out, fmt.Errorf("evaluation schema: %w", err)
	}
	if err := resolved.Validate(generic); err != nil {
		return out, &ParseError{Reason: "evaluation does not match schema: " + err.Error(), Snippet: snippet(raw)}
	}

	if err := DecodeObject(raw, &out); err != nil {
		return out, err
	}
	out.Reason = strings.TrimSpace(out.Reason)
	return out, nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrSnippet {
		return s[:maxErrSnippet]
	}
	return s
}
