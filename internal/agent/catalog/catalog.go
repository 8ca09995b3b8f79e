// Package catalog loads the table metadata that SQL synthesis is allowed to
// reference.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Chative-data-agent/server/internal/agent/model"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

type rawColumn struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Description     string `json:"description"`
	SFDCDescription string `json:"sfdc_description"`
	PossibleValues  []any  `json:"possible_values"`
}

type rawTable struct {
	Description     string      `json:"description"`
	SFDCDescription string      `json:"sfdc_description"`
	Columns         []rawColumn `json:"columns"`
}

// Load reads the metadata document: an object keyed by table name whose
// values hold a description and the ordered columns.
func Load(r io.Reader, catalogName, database string) (*model.SchemaCatalog, error) {
	var raw map[string]rawTable
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog metadata: %w", err)
	}

	c := &model.SchemaCatalog{Catalog: catalogName, Database: database, Tables: make([]model.TableInfo, 0, len(raw))}
	for name, t := range raw {
		if name == "" {
			return nil, fmt.Errorf("catalog metadata has a table without a name")
		}
		table := model.TableInfo{Name: name, Description: firstNonEmpty(t.Description, t.SFDCDescription)}
		for i, col := range t.Columns {
			if col.Name == "" {
				return nil, fmt.Errorf("table %s: column %d has no name", name, i)
			}
			table.Columns = append(table.Columns, model.ColumnInfo{
				Name:           col.Name,
				Type:           col.Type,
				Description:    firstNonEmpty(col.Description, col.SFDCDescription),
				PossibleValues: col.PossibleValues,
			})
		}
		c.Tables = append(c.Tables, table)
	}
	sort.Slice(c.Tables, func(i, j int) bool { return c.Tables[i].Name < c.Tables[j].Name })
	return c, nil
}

func LoadFile(path, catalogName, database string) (*model.SchemaCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog metadata: %w", err)
	}
	defer f.Close()
	return Load(f, catalogName, database)
}

// Filter keeps only the tables present in existing. Dropped tables are logged.
func Filter(c *model.SchemaCatalog, existing []string) *model.SchemaCatalog {
	live := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		live[name] = struct{}{}
	}
	out := &model.SchemaCatalog{Catalog: c.Catalog, Database: c.Database}
	for _, t := range c.Tables {
		if _, ok := live[t.Name]; !ok {
			logx.Warn().Str("table", t.Name).Str("database", c.Database).Msg("catalog table not found in warehouse")
			continue
		}
		out.Tables = append(out.Tables, t)
	}
	return out
}

// Render formats the catalog as the JSON document embedded in prompts.
func Render(c *model.SchemaCatalog) (string, error) {
	doc := make(map[string]model.TableInfo, len(c.Tables))
	for _, t := range c.Tables {
		doc[t.Name] = t
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("render catalog: %w", err)
	}
	return buf.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
