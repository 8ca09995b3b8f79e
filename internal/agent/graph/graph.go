package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"

	"github.com/Chative-data-agent/server/internal/agent/graph/conversations"
	"github.com/Chative-data-agent/server/internal/agent/graph/nodes"
	"github.com/Chative-data-agent/server/internal/agent/graph/observers"
	"github.com/Chative-data-agent/server/internal/agent/model"
	errx "github.com/Chative-data-agent/server/internal/core/error"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

const defaultMaxRunSteps = 20

// GraphConfig holds all dependencies needed to build the graph.
type GraphConfig struct {
	Catalogs        nodes.CatalogSource
	SQL             nodes.SQLSynthesizer
	Executor        nodes.QueryExecutor
	Chart           nodes.ChartSynthesizer
	Artifacts       model.ArtifactStore
	State           model.StateStore
	MessagesManager *conversations.MessagesManager
}

func (c *GraphConfig) validate() error {
	if c == nil {
		return fmt.Errorf("graph config is nil")
	}
	switch {
	case c.Catalogs == nil:
		return fmt.Errorf("catalog source is nil")
	case c.SQL == nil:
		return fmt.Errorf("sql synthesizer is nil")
	case c.Executor == nil:
		return fmt.Errorf("query executor is nil")
	case c.Chart == nil:
		return fmt.Errorf("chart synthesizer is nil")
	case c.Artifacts == nil || c.State == nil:
		return fmt.Errorf("artifact and state stores are required")
	case c.MessagesManager == nil:
		return fmt.Errorf("messages manager is nil")
	}
	return nil
}

// GraphBuilder handles the construction of the question answering graph.
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.Question, *model.Answer]
}

// BuildGraph constructs and returns the compiled agent graph:
//
//	InputConverter -> SQLSynthesizer -(valid)-> Executor -(rows)-> Chart -> Finalizer
//
// Invalid SQL and empty or chart-less results go straight to the Finalizer.
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.Question, *model.Answer], error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.Question, *model.Answer](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	cfg := b.config
	steps := []struct {
		name string
		add  func() error
	}{
		{nodes.NodeInputConverter, func() error {
			return b.graph.AddLambdaNode(nodes.NodeInputConverter,
				nodes.NewInputConverterNode(cfg.MessagesManager),
				compose.WithNodeName(nodes.NodeInputConverter),
				compose.WithStatePreHandler(nodes.NewInputConverterPreHandler()),
			)
		}},
		{nodes.NodeSQLSynthesizer, func() error {
			return b.graph.AddLambdaNode(nodes.NodeSQLSynthesizer,
				nodes.NewSQLSynthesizerNode(cfg.Catalogs, cfg.SQL, cfg.MessagesManager),
				compose.WithNodeName(nodes.NodeSQLSynthesizer),
				compose.WithStatePostHandler(nodes.NewSQLSynthesizerPostHandler()),
			)
		}},
		{nodes.NodeExecutor, func() error {
			return b.graph.AddLambdaNode(nodes.NodeExecutor,
				nodes.NewExecutorNode(cfg.Executor, cfg.MessagesManager),
				compose.WithNodeName(nodes.NodeExecutor),
				compose.WithStatePostHandler(nodes.NewExecutorPostHandler()),
			)
		}},
		{nodes.NodeChart, func() error {
			return b.graph.AddLambdaNode(nodes.NodeChart,
				nodes.NewChartNode(cfg.Chart, cfg.Artifacts, cfg.State, cfg.MessagesManager),
				compose.WithNodeName(nodes.NodeChart),
				compose.WithStatePostHandler(nodes.NewChartPostHandler()),
			)
		}},
		{nodes.NodeFinalizer, func() error {
			return b.graph.AddLambdaNode(nodes.NodeFinalizer, nodes.NewFinalizerNode(cfg.MessagesManager),
				compose.WithNodeName(nodes.NodeFinalizer),
			)
		}},
	}
	for _, s := range steps {
		if err := s.add(); err != nil {
			logx.Error().Err(err).Str("node", s.name).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", s.name, err)
		}
	}
	return nil
}

// addEdges creates the unconditional connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeInputConverter},
		{nodes.NodeInputConverter, nodes.NodeSQLSynthesizer},
		{nodes.NodeChart, nodes.NodeFinalizer},
		{nodes.NodeFinalizer, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	sqlBranch := compose.NewGraphBranch(
		nodes.NewSQLValidCondition(),
		map[string]bool{
			nodes.NodeExecutor:  true,
			nodes.NodeFinalizer: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeSQLSynthesizer, sqlBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding sql branch")
		return fmt.Errorf("error adding sql branch: %w", err)
	}

	chartBranch := compose.NewGraphBranch(
		nodes.NewChartCondition(),
		map[string]bool{
			nodes.NodeChart:     true,
			nodes.NodeFinalizer: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeExecutor, chartBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding chart branch")
		return fmt.Errorf("error adding chart branch: %w", err)
	}

	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.Question, *model.Answer], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(defaultMaxRunSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}

// Runner executes the compiled graph. It is the request boundary: failures
// come back as an Answer carrying a user-facing message plus the error.
type Runner struct {
	runnable compose.Runnable[model.Question, *model.Answer]
}

func NewRunner(ctx context.Context, config *GraphConfig) (*Runner, error) {
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Runner{runnable: runnable}, nil
}

func (r *Runner) Invoke(ctx context.Context, q model.Question) (*model.Answer, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		err := errx.InvalidInput("question is empty")
		return &model.Answer{ConversationID: q.ConversationID, Message: errx.UserMessage(err)}, err
	}
	if q.ConversationID == "" {
		err := errx.InvalidInput("conversation id is empty")
		return &model.Answer{Message: errx.UserMessage(err)}, err
	}

	log := logx.Conversation(q.ConversationID)
	out, err := r.runnable.Invoke(ctx, q, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		log.Error().Err(err).Msg("Error answering question")
		return &model.Answer{ConversationID: q.ConversationID, Message: errx.UserMessage(err)}, err
	}
	if out == nil {
		err := fmt.Errorf("graph returned no answer")
		return &model.Answer{ConversationID: q.ConversationID, Message: errx.UserMessage(err)}, err
	}

	log.Info().
		Bool("sql_valid", out.SQL.IsValid()).
		Str("chart", string(out.Chart.Outcome())).
		Float64("total_cost_usd", out.CostUSD).
		Msg("Question answered")
	return out, nil
}
