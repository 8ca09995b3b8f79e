package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-data-agent/server/internal/agent/model"
)

const metadata = `{
  "sales": {
    "sfdc_description": "Daily sales per region",
    "columns": [
      {"name": "region", "type": "varchar", "description": "Sales region", "possible_values": ["north", "south"]},
      {"name": "day", "type": "date", "sfdc_description": "Booking day"},
      {"name": "amount", "type": "double"}
    ]
  },
  "accounts": {
    "description": "Customer accounts",
    "columns": [{"name": "account_id", "type": "varchar"}]
  }
}`

func TestLoad(t *testing.T) {
	c, err := Load(strings.NewReader(metadata), "hive", "analytics")
	require.NoError(t, err)

	assert.Equal(t, []string{"accounts", "sales"}, c.TableNames())
	sales, ok := c.Table("sales")
	require.True(t, ok)
	assert.Equal(t, "Daily sales per region", sales.Description)
	require.Len(t, sales.Columns, 3)
	assert.Equal(t, "region", sales.Columns[0].Name)
	assert.Equal(t, []any{"north", "south"}, sales.Columns[0].PossibleValues)
	assert.Equal(t, "Booking day", sales.Columns[1].Description)
	assert.Equal(t, `"hive"."analytics"."sales"`, c.QualifiedName("sales"))
}

func TestLoad_Rejects(t *testing.T) {
	_, err := Load(strings.NewReader(`[]`), "", "")
	assert.Error(t, err)
	_, err = Load(strings.NewReader(`{"t": {"columns": [{"type": "int"}]}}`), "", "")
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	c, err := Load(strings.NewReader(metadata), "", "analytics")
	require.NoError(t, err)

	filtered := Filter(c, []string{"sales", "other"})
	assert.Equal(t, []string{"sales"}, filtered.TableNames())
	assert.Equal(t, []string{"accounts", "sales"}, c.TableNames())
}

func TestRender(t *testing.T) {
	c, err := Load(strings.NewReader(metadata), "", "")
	require.NoError(t, err)

	out, err := Render(c)
	require.NoError(t, err)

	var doc map[string]model.TableInfo
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Len(t, doc, 2)
	assert.Equal(t, "amount", doc["sales"].Columns[2].Name)
	assert.Contains(t, out, `"possible_values"`)
	assert.NotContains(t, out, `"sfdc_description"`)
}

type stubLister struct {
	tables []string
	err    error
	calls  int
}

func (s *stubLister) ListTables(context.Context, string) ([]string, error) {
	s.calls++
	return s.tables, s.err
}

func writeMetadata(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(metadata), 0o600))
	return path
}

func TestProvider_CachesSnapshot(t *testing.T) {
	lister := &stubLister{tables: []string{"sales"}}
	p := NewProvider(model.CatalogConfig{MetadataFile: writeMetadata(t), FilterLive: true}, model.WarehouseConfig{Database: "analytics"}, lister)

	first, err := p.Get(context.Background())
	require.NoError(t, err)
	second, err := p.Get(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []string{"sales"}, first.TableNames())
	assert.Equal(t, 1, lister.calls)

	refreshed, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, refreshed)
	assert.Equal(t, 2, lister.calls)
}

func TestProvider_Errors(t *testing.T) {
	p := NewProvider(model.CatalogConfig{MetadataFile: writeMetadata(t), FilterLive: true}, model.WarehouseConfig{}, &stubLister{err: errors.New("down")})
	_, err := p.Get(context.Background())
	assert.Error(t, err)

	p = NewProvider(model.CatalogConfig{MetadataFile: writeMetadata(t), FilterLive: true}, model.WarehouseConfig{}, &stubLister{tables: []string{"none"}})
	_, err = p.Get(context.Background())
	assert.ErrorContains(t, err, "no usable tables")

	p = NewProvider(model.CatalogConfig{MetadataFile: writeMetadata(t), FilterLive: false}, model.WarehouseConfig{}, nil)
	c, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.Tables, 2)
}

func TestSuggest(t *testing.T) {
	c, err := Load(strings.NewReader(metadata), "", "")
	require.NoError(t, err)

	hints := Suggest(c, "column 'rgn' not found")
	require.Len(t, hints, 1)
	assert.Equal(t, `"rgn" is not in the schema. Did you mean "region"?`, hints[0])

	assert.Empty(t, Suggest(c, `Referenced column "region" is ambiguous`))
	assert.Empty(t, Suggest(c, "syntax error at end of input"))
	assert.Len(t, Suggest(c, "`s.ammount` and `ammount`"), 1)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 3, levenshtein("rgn", "region"))
}
