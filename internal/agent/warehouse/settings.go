package warehouse

import (
	"fmt"
	"strconv"
	"strings"
)

// Setting is one session directive applied before a statement.
type Setting struct {
	Key   string
	Value string
}

// Settings keeps directives in declaration order.
type Settings []Setting

// ParseSettings reads "k=v,k2=v2". Empty input yields no settings.
func ParseSettings(s string) (Settings, error) {
	var out Settings
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" || strings.ContainsAny(k, " ;'\"") {
			return nil, fmt.Errorf("invalid setting %q", part)
		}
		out = append(out, Setting{Key: k, Value: strings.TrimSpace(v)})
	}
	return out, nil
}

// Statements renders each directive as a SET statement.
func (s Settings) Statements() []string {
	out := make([]string, 0, len(s))
	for _, st := range s {
		out = append(out, fmt.Sprintf("SET %s = %s", st.Key, sqlLiteral(st.Value)))
	}
	return out
}

// Map returns the directives keyed by name.
func (s Settings) Map() map[string]any {
	out := make(map[string]any, len(s))
	for _, st := range s {
		out[st.Key] = st.Value
	}
	return out
}

func sqlLiteral(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	switch strings.ToLower(v) {
	case "true", "false":
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
