package model

import "sort"

type ColumnInfo struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Description    string `json:"description,omitempty"`
	PossibleValues []any  `json:"possible_values,omitempty"`
}

type TableInfo struct {
	Name        string       `json:"-"`
	Description string       `json:"description,omitempty"`
	Columns     []ColumnInfo `json:"columns"`
}

// SchemaCatalog is an immutable snapshot of the tables SQL may reference.
// Tables are ordered by name.
type SchemaCatalog struct {
	Catalog  string
	Database string
	Tables   []TableInfo
}

// Table looks a table up by name.
func (c *SchemaCatalog) Table(name string) (TableInfo, bool) {
	if c == nil {
		return TableInfo{}, false
	}
	i := sort.Search(len(c.Tables), func(i int) bool { return c.Tables[i].Name >= name })
	if i < len(c.Tables) && c.Tables[i].Name == name {
		return c.Tables[i], true
	}
	return TableInfo{}, false
}

func (c *SchemaCatalog) TableNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	return names
}

// QualifiedName renders "catalog"."database"."table", omitting empty parts.
func (c *SchemaCatalog) QualifiedName(table string) string {
	var out string
	if c != nil {
		for _, part := range []string{c.Catalog, c.Database} {
			if part != "" {
				out += `"` + part + `".`
			}
		}
	}
	return out + `"` + table + `"`
}
