package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Chative-data-agent/server/internal/agent/model"
)

var quotedIdent = regexp.MustCompile("['\"`]([A-Za-z_][A-Za-z0-9_.]*)['\"`]")

// Suggest looks for quoted identifiers in an engine diagnostic that are not
// catalog names and returns "did you mean" hints for close matches.
func Suggest(c *model.SchemaCatalog, diagnostic string) []string {
	if c == nil {
		return nil
	}
	known := make(map[string]struct{})
	var names []string
	for _, t := range c.Tables {
		if _, ok := known[t.Name]; !ok {
			known[t.Name] = struct{}{}
			names = append(names, t.Name)
		}
		for _, col := range t.Columns {
			if _, ok := known[col.Name]; !ok {
				known[col.Name] = struct{}{}
				names = append(names, col.Name)
			}
		}
	}

	var hints []string
	seen := make(map[string]struct{})
	for _, m := range quotedIdent.FindAllStringSubmatch(diagnostic, -1) {
		ident := m[1]
		if i := strings.LastIndex(ident, "."); i >= 0 {
			ident = ident[i+1:]
		}
		if _, ok := known[ident]; ok {
			continue
		}
		if _, ok := seen[ident]; ok {
			continue
		}
		seen[ident] = struct{}{}

		similar := suggestSimilar(ident, names, max(2, len(ident)/3))
		if len(similar) == 0 {
			continue
		}
		hints = append(hints, fmt.Sprintf("%q is not in the schema. Did you mean %s?", ident, quoteAll(similar)))
	}
	return hints
}

// suggestSimilar returns candidates within maxDistance edits, or that
// contain input as an abbreviation, closest first.
func suggestSimilar(input string, candidates []string, maxDistance int) []string {
	type scored struct {
		name string
		dist int
	}
	in := strings.ToLower(input)
	var found []scored
	for _, candidate := range candidates {
		dist := levenshtein(in, strings.ToLower(candidate))
		if dist > 0 && (dist <= maxDistance || isAbbreviation(in, strings.ToLower(candidate))) {
			found = append(found, scored{candidate, dist})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	if len(found) > 3 {
		found = found[:3]
	}
	out := make([]string, len(found))
	for i, s := range found {
		out[i] = s.name
	}
	return out
}

// isAbbreviation reports whether every rune of short appears in long in order,
// starting with the same first rune.
func isAbbreviation(short, long string) bool {
	if len(short) < 2 || len(long) == 0 || short[0] != long[0] {
		return false
	}
	rest := []rune(long)
	for _, r := range short {
		i := 0
		for i < len(rest) && rest[i] != r {
			i++
		}
		if i == len(rest) {
			return false
		}
		rest = rest[i+1:]
	}
	return true
}

func levenshtein(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, " or ")
}
