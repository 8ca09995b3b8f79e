package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"

	"github.com/Chative-data-agent/server/internal/agent/chart"
	"github.com/Chative-data-agent/server/internal/agent/graph/conversations"
	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/tabular"
	"github.com/Chative-data-agent/server/internal/agent/warehouse"
	errx "github.com/Chative-data-agent/server/internal/core/error"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

const (
	NodeInputConverter = "InputConverter"
	NodeSQLSynthesizer = "SQLSynthesizer"
	NodeExecutor       = "Executor"
	NodeChart          = "Chart"
	NodeFinalizer      = "Finalizer"
)

// CatalogSource hands out the schema catalog snapshot for a request.
type CatalogSource interface {
	Get(ctx context.Context) (*model.SchemaCatalog, error)
}

type SQLSynthesizer interface {
	Synthesize(ctx context.Context, conversationID, request string, c *model.SchemaCatalog) (*model.SQLCandidate, error)
}

type QueryExecutor interface {
	Execute(ctx context.Context, sql string) (*model.QueryResult, error)
}

type ChartSynthesizer interface {
	Synthesize(ctx context.Context, req chart.Request) (*model.ChartCandidate, error)
}

// NewInputConverterPreHandler resets the per-question state.
func NewInputConverterPreHandler() func(context.Context, model.Question, *model.AppState) (model.Question, error) {
	return func(ctx context.Context, in model.Question, s *model.AppState) (model.Question, error) {
		s.ConversationID = in.ConversationID
		s.Question = in
		s.SQL = nil
		s.Result = nil
		s.Chart = nil
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewInputConverterNode records the question in the conversation history and
// prefixes earlier turns as context for the SQL request.
func NewInputConverterNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.Question) (*model.Turn, error) {
		request, err := mm.RecordQuestion(ctx, in.ConversationID, in.Query)
		if err != nil {
			return nil, fmt.Errorf("error recording question: %w", err)
		}
		return &model.Turn{Request: request}, nil
	})
}

// NewSQLSynthesizerNode writes and validates the SQL for the request.
func NewSQLSynthesizerNode(catalogs CatalogSource, synth SQLSynthesizer, mm *conversations.MessagesManager) *compose.Lambda {
	return answeringFailures(mm, func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		var conversationID string
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			conversationID = s.ConversationID
			return nil
		}); err != nil {
			return nil, err
		}

		c, err := catalogs.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("error loading schema catalog: %w", err)
		}
		candidate, err := synth.Synthesize(ctx, conversationID, turn.Request, c)
		if err != nil {
			return nil, fmt.Errorf("error synthesizing sql: %w", err)
		}
		turn.SQL = candidate
		return turn, nil
	})
}

// NewSQLSynthesizerPostHandler keeps the candidate and adds its model cost.
func NewSQLSynthesizerPostHandler() func(context.Context, *model.Turn, *model.AppState) (*model.Turn, error) {
	return func(ctx context.Context, out *model.Turn, state *model.AppState) (*model.Turn, error) {
		if out == nil || out.SQL == nil {
			return out, nil
		}
		state.SQL = out.SQL
		state.TotalCostUSD += out.SQL.CostUSD
		logx.Debug().
			Str("conversation_id", state.ConversationID).
			Str("node", NodeSQLSynthesizer).
			Str("status", out.SQL.Status.String()).
			Int("attempts", out.SQL.Attempts).
			Float64("total_cost_usd", state.TotalCostUSD).
			Msg("SQL synthesized")
		return out, nil
	}
}

// NewSQLValidCondition routes valid SQL to execution and everything else
// straight to the answer.
func NewSQLValidCondition() func(context.Context, *model.Turn) (string, error) {
	return func(ctx context.Context, turn *model.Turn) (string, error) {
		if turn != nil && turn.SQL.IsValid() {
			return NodeExecutor, nil
		}
		return NodeFinalizer, nil
	}
}

func NewExecutorNode(exec QueryExecutor, mm *conversations.MessagesManager) *compose.Lambda {
	return answeringFailures(mm, func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		result, err := exec.Execute(ctx, turn.SQL.Query)
		if err != nil {
			return nil, fmt.Errorf("error executing sql: %w", err)
		}
		turn.Result = result
		return turn, nil
	})
}

func NewExecutorPostHandler() func(context.Context, *model.Turn, *model.AppState) (*model.Turn, error) {
	return func(ctx context.Context, out *model.Turn, state *model.AppState) (*model.Turn, error) {
		if out != nil {
			state.Result = out.Result
		}
		return out, nil
	}
}

// NewChartCondition skips the chart when the caller asked for data only or
// the query returned nothing to plot.
func NewChartCondition() func(context.Context, *model.Turn) (string, error) {
	return func(ctx context.Context, turn *model.Turn) (string, error) {
		var skip bool
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			skip = s.Question.SkipChart
			return nil
		}); err != nil {
			return "", err
		}
		if skip || turn == nil || turn.Result == nil || turn.Result.RowCount == 0 {
			return NodeFinalizer, nil
		}
		return NodeChart, nil
	}
}

// NewChartNode designs, renders and critiques a chart of the result and
// persists it when something rendered.
func NewChartNode(synth ChartSynthesizer, artifacts model.ArtifactStore, state model.StateStore, mm *conversations.MessagesManager) *compose.Lambda {
	return answeringFailures(mm, func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		var q model.Question
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			q = s.Question
			return nil
		}); err != nil {
			return nil, err
		}

		candidate, err := synth.Synthesize(ctx, chart.Request{
			Result:           turn.Result,
			SQL:              turn.SQL.Query,
			OriginalQuestion: q.Query,
			SubQuestion:      q.SubQuestion,
			Notes:            q.Notes,
		})
		if err != nil {
			return nil, fmt.Errorf("error synthesizing chart: %w", err)
		}
		if err := chart.Persist(ctx, artifacts, state, q.ConversationID, candidate); err != nil {
			return nil, fmt.Errorf("error saving chart: %w", err)
		}
		turn.Chart = candidate
		return turn, nil
	})
}

func NewChartPostHandler() func(context.Context, *model.Turn, *model.AppState) (*model.Turn, error) {
	return func(ctx context.Context, out *model.Turn, state *model.AppState) (*model.Turn, error) {
		if out == nil || out.Chart == nil {
			return out, nil
		}
		state.Chart = out.Chart
		state.TotalCostUSD += out.Chart.CostUSD
		logx.Debug().
			Str("conversation_id", state.ConversationID).
			Str("node", NodeChart).
			Str("outcome", string(out.Chart.Outcome())).
			Int("outer_attempts", out.Chart.OuterAttempts).
			Float64("total_cost_usd", state.TotalCostUSD).
			Msg("Chart synthesized")
		return out, nil
	}
}

// NewFinalizerNode assembles the answer and appends a compact form of it,
// the SQL plus a result summary, to the history.
func NewFinalizerNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Answer, error) {
		var (
			conversationID string
			cost           float64
		)
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			conversationID = s.ConversationID
			cost = s.TotalCostUSD
			return nil
		}); err != nil {
			return nil, err
		}

		message, err := answerMessage(turn)
		if err != nil {
			return nil, err
		}
		if err := mm.SaveResponse(ctx, conversationID, historyMessage(turn)); err != nil {
			return nil, fmt.Errorf("error saving response: %w", err)
		}

		return &model.Answer{
			ConversationID: conversationID,
			Message:        message,
			SQL:            turn.SQL,
			Result:         turn.Result,
			Chart:          turn.Chart,
			CostUSD:        cost,
		}, nil
	})
}

func answerMessage(turn *model.Turn) (string, error) {
	if !turn.SQL.IsValid() {
		var b strings.Builder
		b.WriteString("I could not write a query the warehouse accepts for this question.")
		if turn.SQL != nil && turn.SQL.Reason != "" {
			fmt.Fprintf(&b, "\n\nLast error: %s", turn.SQL.Reason)
		}
		if turn.SQL != nil && turn.SQL.Query != "" {
			fmt.Fprintf(&b, "\n\n```sql\n%s\n```", turn.SQL.Query)
		}
		return b.String(), nil
	}
	var imageName string
	if turn.Chart != nil {
		imageName = turn.Chart.ImageName
	}
	summary, err := tabular.Summary(imageName, turn.Result)
	if err != nil {
		return "", fmt.Errorf("error summarizing result: %w", err)
	}
	return summary, nil
}

// historyMessage is what follow-up questions see of an answer. Result rows
// stay out of it.
func historyMessage(turn *model.Turn) string {
	if !turn.SQL.IsValid() || turn.Result == nil {
		message, _ := answerMessage(turn)
		return message
	}
	var b strings.Builder
	fmt.Fprintf(&b, "```sql\n%s\n```\nThe query returned %d rows with columns %s.",
		turn.SQL.Query, turn.Result.RowCount, strings.Join(turn.Result.ColumnNames(), ", "))
	if turn.Chart != nil && turn.Chart.ImageName != "" {
		fmt.Fprintf(&b, " Chart: %s.", turn.Chart.ImageName)
	}
	return b.String()
}

// answeringFailures runs fn and, when it fails after the question was
// recorded, appends a short failure answer so the history has no
// unanswered question.
func answeringFailures(mm *conversations.MessagesManager, fn func(context.Context, *model.Turn) (*model.Turn, error)) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		out, err := fn(ctx, turn)
		if err == nil {
			return out, nil
		}
		var conversationID string
		if stateErr := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			conversationID = s.ConversationID
			return nil
		}); stateErr != nil {
			return nil, err
		}
		if saveErr := mm.SaveResponse(context.WithoutCancel(ctx), conversationID, failureMessage(err)); saveErr != nil {
			logx.Warn().Err(saveErr).Str("conversation_id", conversationID).Msg("Error saving failure answer")
		}
		return nil, err
	})
}

func failureMessage(err error) string {
	var execErr *warehouse.ExecutionError
	if errors.As(err, &execErr) {
		return "I could not answer this question. " + execErr.Error()
	}
	return "I could not answer this question. " + errx.UserMessage(err)
}
