package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Chative-data-agent/server/internal/agent/catalog"
	"github.com/Chative-data-agent/server/internal/agent/chart"
	"github.com/Chative-data-agent/server/internal/agent/graph"
	"github.com/Chative-data-agent/server/internal/agent/graph/conversations"
	"github.com/Chative-data-agent/server/internal/agent/graph/prompts"
	"github.com/Chative-data-agent/server/internal/agent/llm"
	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/repo"
	"github.com/Chative-data-agent/server/internal/agent/sqlgen"
	"github.com/Chative-data-agent/server/internal/agent/warehouse"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

const artifactPrefix = "conversations"

// App holds the long-lived clients shared by every request of a process.
type App struct {
	Config    *AppConfig
	Executor  *warehouse.Executor
	Catalogs  *catalog.Provider
	SQL       *sqlgen.Synthesizer
	Agent     *graph.Agent
	Artifacts model.ArtifactStore
	State     model.StateStore

	closers []func() error
}

// Close releases the warehouse connection and the Redis client.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewWarehouse opens the configured engine behind an Executor.
func NewWarehouse(ctx context.Context, cfg model.WarehouseConfig) (*warehouse.Executor, error) {
	var (
		engine warehouse.Engine
		err    error
	)
	switch strings.ToLower(cfg.Driver) {
	case "clickhouse", "":
		engine, err = warehouse.NewClickHouseEngine(ctx, cfg)
	case "postgres", "duckdb":
		engine, err = warehouse.OpenSQLEngine(ctx, strings.ToLower(cfg.Driver), cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown WAREHOUSE_DRIVER %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	exec, err := warehouse.NewExecutor(engine, cfg)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return exec, nil
}

func dialect(driver string) string {
	switch strings.ToLower(driver) {
	case "postgres":
		return "PostgreSQL"
	case "duckdb":
		return "DuckDB"
	default:
		return "ClickHouse"
	}
}

// BuildApp wires every dependency from cfg. Model clients are built only
// when withModels is set so catalog-only commands need no API key.
func BuildApp(ctx context.Context, cfg *AppConfig, withModels bool) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	exec, err := NewWarehouse(ctx, cfg.Warehouse)
	if err != nil {
		return nil, err
	}
	app.Executor = exec
	app.closers = append(app.closers, exec.Engine().Close)

	var lister catalog.TableLister
	if cfg.Catalog.FilterLive {
		lister = exec
	}
	app.Catalogs = catalog.NewProvider(cfg.Catalog, cfg.Warehouse, lister)

	ttl, err := cfg.ConversationTTL()
	if err != nil {
		return nil, err
	}
	var history model.ConversationRepository
	if cfg.Redis.Enabled() {
		rdb, err := cfg.Redis.Dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise Redis client: %w", err)
		}
		app.closers = append(app.closers, rdb.Close)
		history = repo.NewRedisConversationRepository(rdb, ttl)
		app.State = repo.NewRedisStateStore(rdb, ttl)
		logx.Debug().Msg("Connected to Redis successfully")
	} else {
		history = repo.NewMemoryConversationRepository(ttl)
		app.State = repo.NewMemoryStateStore(ttl)
	}

	switch strings.ToLower(cfg.Artifacts.Backend) {
	case "s3":
		client, err := cfg.S3.New()
		if err != nil {
			return nil, fmt.Errorf("failed to initialise object store: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		app.Artifacts = repo.NewObjectArtifactStore(client, artifactPrefix)
	case "memory", "":
		app.Artifacts = repo.NewMemoryArtifactStore()
	default:
		return nil, fmt.Errorf("unknown ARTIFACT_BACKEND %q", cfg.Artifacts.Backend)
	}

	if withModels {
		if err := app.buildPipeline(ctx, history); err != nil {
			return nil, err
		}
	}

	ok = true
	return app, nil
}

func (a *App) buildPipeline(ctx context.Context, history model.ConversationRepository) error {
	cfg := a.Config
	models, err := llm.NewModels(ctx, llm.ModelsConfig{
		LLM:      cfg.LLM,
		SQL:      cfg.SQL,
		Chart:    cfg.Chart,
		Critique: cfg.Critique,
	})
	if err != nil {
		return err
	}

	scope := &model.SchemaCatalog{Catalog: cfg.Warehouse.Catalog, Database: cfg.Warehouse.Database}
	a.SQL, err = sqlgen.New(models.SQL, a.Executor, a.Artifacts, sqlgen.Config{
		CorrectionTemperature: cfg.SQL.CorrectionTemperature,
		TransientRetries:      cfg.Warehouse.TransientRetries,
		Warehouse: prompts.Warehouse{
			Dialect:  dialect(cfg.Warehouse.Driver),
			Catalog:  cfg.Warehouse.Catalog,
			Database: cfg.Warehouse.Database,
			Qualify:  scope.QualifiedName,
		},
	})
	if err != nil {
		return err
	}

	charts, err := chart.NewSynthesizer(models.Chart, models.ChartFix,
		chart.NewCritic(models.Critique), chart.NewVLConvert(cfg.Render),
		chart.Config{PPI: cfg.Render.PPI},
	)
	if err != nil {
		return err
	}

	a.Agent, err = graph.NewAgent(ctx, &graph.GraphConfig{
		Catalogs:        a.Catalogs,
		SQL:             a.SQL,
		Executor:        a.Executor,
		Chart:           charts,
		Artifacts:       a.Artifacts,
		State:           a.State,
		MessagesManager: conversations.NewMessagesManager(history, cfg.Conversation),
	})
	if err != nil {
		return err
	}
	logx.Debug().Msg("Agent graph built successfully")
	return nil
}
