package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/Chative-data-agent/server/internal/agent/chart"
	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/tabular"
	errx "github.com/Chative-data-agent/server/internal/core/error"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// Agent is the question answering pipeline plus the conversation scoped
// operations around it.
type Agent struct {
	runner *Runner
	config *GraphConfig
}

func NewAgent(ctx context.Context, config *GraphConfig) (*Agent, error) {
	runner, err := NewRunner(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Agent{runner: runner, config: config}, nil
}

// Ask answers one question through the graph.
func (a *Agent) Ask(ctx context.Context, q model.Question) (*model.Answer, error) {
	return a.runner.Invoke(ctx, q)
}

// ChartFromSQLFile runs a query saved by an earlier question and charts its
// result.
func (a *Agent) ChartFromSQLFile(ctx context.Context, q model.Question, sqlFileName string) (*model.Answer, error) {
	answer, err := a.chartFromSQLFile(ctx, q, sqlFileName)
	if err != nil {
		logx.Error().Err(err).
			Str("conversation_id", q.ConversationID).
			Str("sql_file", sqlFileName).
			Msg("Error charting saved query")
		return &model.Answer{ConversationID: q.ConversationID, Message: errx.UserMessage(err)}, err
	}
	return answer, nil
}

func (a *Agent) chartFromSQLFile(ctx context.Context, q model.Question, sqlFileName string) (*model.Answer, error) {
	if q.ConversationID == "" || sqlFileName == "" {
		return nil, errx.InvalidInput("conversation id and sql file are required")
	}
	data, err := a.config.Artifacts.Load(ctx, q.ConversationID, sqlFileName)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", sqlFileName, err)
	}
	query := strings.TrimSpace(string(data))
	if query == "" {
		return nil, errx.InvalidInput("%s is empty", sqlFileName)
	}

	result, err := a.config.Executor.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error executing sql: %w", err)
	}
	candidate, err := a.config.Chart.Synthesize(ctx, chart.Request{
		Result:           result,
		SQL:              query,
		OriginalQuestion: q.Query,
		SubQuestion:      q.SubQuestion,
		Notes:            q.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("error synthesizing chart: %w", err)
	}
	if err := chart.Persist(ctx, a.config.Artifacts, a.config.State, q.ConversationID, candidate); err != nil {
		return nil, fmt.Errorf("error saving chart: %w", err)
	}

	message, err := tabular.Summary(candidate.ImageName, result)
	if err != nil {
		return nil, err
	}
	return &model.Answer{
		ConversationID: q.ConversationID,
		Message:        message,
		SQL:            &model.SQLCandidate{Query: query, Status: model.Valid, FileName: sqlFileName},
		Result:         result,
		Chart:          candidate,
		CostUSD:        candidate.CostUSD,
	}, nil
}

// TakeChartImage hands over the latest chart image of a conversation once.
func (a *Agent) TakeChartImage(ctx context.Context, conversationID string) (string, []byte, error) {
	return TakeChartImage(ctx, a.config.State, a.config.Artifacts, conversationID)
}

// TakeChartImage loads the image named by the conversation's
// chart_image_name and clears the key after the image loads. A conversation
// without a pending image yields an error matching errx.ErrNotFound.
func TakeChartImage(ctx context.Context, state model.StateStore, artifacts model.ArtifactStore, conversationID string) (string, []byte, error) {
	name, ok, err := state.Get(ctx, conversationID, model.ChartImageStateKey)
	if err != nil {
		return "", nil, err
	}
	if !ok || name == "" {
		return "", nil, fmt.Errorf("no chart image for conversation %s: %w", conversationID, errx.ErrNotFound)
	}
	image, err := artifacts.Load(ctx, conversationID, name)
	if err != nil {
		return "", nil, fmt.Errorf("error loading chart image %s: %w", name, err)
	}
	if err := state.Delete(ctx, conversationID, model.ChartImageStateKey); err != nil {
		return "", nil, err
	}
	return name, image, nil
}
