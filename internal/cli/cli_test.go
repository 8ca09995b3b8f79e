package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-data-agent/server/internal/agent/catalog"
	"github.com/Chative-data-agent/server/internal/agent/chart"
	"github.com/Chative-data-agent/server/internal/agent/graph"
	"github.com/Chative-data-agent/server/internal/agent/graph/conversations"
	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/repo"
)

const metadata = `{
  "sales": {
    "description": "Daily sales per region",
    "columns": [
      {"name": "region", "type": "varchar"},
      {"name": "amount", "type": "double"}
    ]
  }
}`

func TestReadQuestions(t *testing.T) {
	in := strings.NewReader(`# weekly questions
revenue by region

{"conversation_id": "c7", "query": "top accounts", "skip_chart": true}
`)
	questions, err := readQuestions(in)
	require.NoError(t, err)
	require.Len(t, questions, 2)

	assert.Equal(t, 2, questions[0].line)
	assert.Equal(t, "revenue by region", questions[0].q.Query)
	assert.NotEmpty(t, questions[0].q.ConversationID)

	assert.Equal(t, 4, questions[1].line)
	assert.Equal(t, "c7", questions[1].q.ConversationID)
	assert.True(t, questions[1].q.SkipChart)
}

func TestReadQuestions_Rejects(t *testing.T) {
	_, err := readQuestions(strings.NewReader(`{"query": "x", "chart": true}`))
	assert.ErrorContains(t, err, "line 1")

	_, err = readQuestions(strings.NewReader("ok\n{\"query\": \"  \"}\n"))
	assert.ErrorContains(t, err, "line 2: query is empty")
}

type fakeAsker struct {
	calls atomic.Int32
}

func (f *fakeAsker) Ask(_ context.Context, q model.Question) (*model.Answer, error) {
	f.calls.Add(1)
	if strings.Contains(q.Query, "fail") {
		return &model.Answer{ConversationID: q.ConversationID, Message: "data warehouse is unavailable"}, errors.New("warehouse down")
	}
	return &model.Answer{
		ConversationID: q.ConversationID,
		Message:        "answer to " + q.Query,
		SQL:            &model.SQLCandidate{Query: "SELECT 1", Status: model.Valid},
		CostUSD:        0.1,
	}, nil
}

func TestRunBatch(t *testing.T) {
	questions := []batchQuestion{
		{line: 1, q: model.Question{ConversationID: "a", Query: "q1"}},
		{line: 2, q: model.Question{ConversationID: "b", Query: "please fail"}},
		{line: 3, q: model.Question{ConversationID: "c", Query: "q3"}},
	}
	asker := &fakeAsker{}

	results, err := runBatch(context.Background(), asker, questions, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.EqualValues(t, 3, asker.calls.Load())

	assert.Equal(t, "answer to q1", results[0].Message)
	assert.Equal(t, "SELECT 1", results[0].SQL)
	assert.Equal(t, "warehouse down", results[1].Error)
	assert.Equal(t, "data warehouse is unavailable", results[1].Message)
	assert.Equal(t, 3, results[2].Line)

	var buf bytes.Buffer
	require.NoError(t, writeBatch(&buf, results))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var first batchResult
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first.ConversationID)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SQL_MODEL=gemini-test\nRENDER_PPI=96\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("SQL_MODEL")
		_ = os.Unsetenv("RENDER_PPI")
	})
	t.Setenv("WAREHOUSE_DRIVER", "duckdb")

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, "gemini-test", cfg.SQL.Model)
	assert.Equal(t, 96, cfg.Render.PPI)
	assert.Equal(t, "duckdb", cfg.Warehouse.Driver)
	assert.InDelta(t, 0.1, cfg.SQL.Temperature, 1e-6)
	assert.Equal(t, 3, int(cfg.Warehouse.TransientRetries))

	ttl, err := cfg.ConversationTTL()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, ttl)
}

func TestLoadConfig_MissingFileAndBadTTL(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)

	t.Setenv("CONVERSATION_TTL", "soon")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "CONVERSATION_TTL")
}

type stubSQL struct{}

func (stubSQL) Synthesize(_ context.Context, _, request string, _ *model.SchemaCatalog) (*model.SQLCandidate, error) {
	return &model.SQLCandidate{Query: "SELECT region, amount FROM sales", Request: request, Status: model.Valid, CostUSD: 0.01}, nil
}

type stubExecutor struct{}

func (stubExecutor) Execute(context.Context, string) (*model.QueryResult, error) {
	return &model.QueryResult{
		Columns:  []model.Column{{Name: "region", Kind: model.KindText}, {Name: "amount", Kind: model.KindFloat}},
		Rows:     [][]any{{"north", 3.5}},
		RowCount: 1,
	}, nil
}

type stubChart struct{}

func (stubChart) Synthesize(_ context.Context, req chart.Request) (*model.ChartCandidate, error) {
	return &model.ChartCandidate{
		Spec: `{"mark": "bar"}`, Result: req.Result, Render: model.Rendered, Critique: model.Approved,
		Image: []byte("png-bytes"), InvocationID: "inv9",
	}, nil
}

func stubBuilder(t *testing.T) appBuilder {
	t.Helper()
	metadataFile := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(metadataFile, []byte(metadata), 0o600))

	return func(ctx context.Context, cfg *AppConfig, withModels bool) (*App, error) {
		app := &App{
			Config:    cfg,
			Catalogs:  catalog.NewProvider(model.CatalogConfig{MetadataFile: metadataFile}, model.WarehouseConfig{Database: "crm"}, nil),
			Artifacts: repo.NewMemoryArtifactStore(),
			State:     repo.NewMemoryStateStore(time.Minute),
		}
		if !withModels {
			return app, nil
		}
		agent, err := graph.NewAgent(ctx, &graph.GraphConfig{
			Catalogs:        app.Catalogs,
			SQL:             stubSQL{},
			Executor:        stubExecutor{},
			Chart:           stubChart{},
			Artifacts:       app.Artifacts,
			State:           app.State,
			MessagesManager: conversations.NewMessagesManager(repo.NewMemoryConversationRepository(time.Minute), model.ConversationConfig{MaxTurns: 2}),
		})
		if err != nil {
			return nil, err
		}
		app.Agent = agent
		return app, nil
	}
}

func execute(t *testing.T, build appBuilder, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(build)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAskCommand(t *testing.T) {
	imageDir := t.TempDir()
	out, err := execute(t, stubBuilder(t), "ask", "-c", "c1", "--image-dir", imageDir, "revenue", "by", "region")
	require.NoError(t, err)

	assert.Contains(t, out, "conversation: c1")
	assert.Contains(t, out, "```sql\nSELECT region, amount FROM sales\n```")
	assert.Contains(t, out, "chart_image_id: `inv9.png`")
	assert.Contains(t, out, "north,3.5")

	image, err := os.ReadFile(filepath.Join(imageDir, "inv9.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), image)
}

func TestAskCommand_JSON(t *testing.T) {
	out, err := execute(t, stubBuilder(t), "ask", "--json", "--skip-chart", "-c", "c2", "revenue")
	require.NoError(t, err)

	var answer struct {
		ConversationID string `json:"conversation_id"`
		Message        string `json:"message"`
		SQL            struct {
			Query  string `json:"sql_code"`
			Status string `json:"status"`
		} `json:"sql"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &answer))
	assert.Equal(t, "c2", answer.ConversationID)
	assert.Equal(t, "valid", answer.SQL.Status)
	assert.True(t, strings.HasPrefix(answer.Message, "**DATA**:"))
}

func TestCatalogCommand(t *testing.T) {
	out, err := execute(t, stubBuilder(t), "catalog", "--tables")
	require.NoError(t, err)
	assert.Equal(t, "\"crm\".\"sales\"\n", out)

	out, err = execute(t, stubBuilder(t), "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, `"description": "Daily sales per region"`)
}

func TestCatalogCommand_RefreshReloadsMetadata(t *testing.T) {
	build := stubBuilder(t)
	var provider *catalog.Provider
	capturing := func(ctx context.Context, cfg *AppConfig, withModels bool) (*App, error) {
		app, err := build(ctx, cfg, withModels)
		if err == nil {
			provider = app.Catalogs
		}
		return app, err
	}

	out, err := execute(t, capturing, "catalog", "--refresh", "--tables")
	require.NoError(t, err)
	assert.Equal(t, "\"crm\".\"sales\"\n", out)

	// the snapshot loaded by --refresh is the one Get serves afterwards
	require.NotNil(t, provider)
	cached, err := provider.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, cached.TableNames())
}

func TestChartImageCommand_RequiresConversation(t *testing.T) {
	_, err := execute(t, stubBuilder(t), "chart-image")
	assert.ErrorContains(t, err, "--conversation")

	_, err = execute(t, stubBuilder(t), "chart-image", "-c", "nobody")
	assert.Error(t, err)
}
