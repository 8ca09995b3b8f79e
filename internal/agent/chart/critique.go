package chart

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/Chative-data-agent/server/internal/agent/graph/parsers"
	"github.com/Chative-data-agent/server/internal/agent/graph/prompts"
	"github.com/Chative-data-agent/server/internal/agent/llm"
	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/metrics"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// Verdict is a critique result with the spend of producing it.
type Verdict struct {
	model.EvaluationResult
	CostUSD float64
}

// verdictSchema is the structured output the critique model must produce.
func verdictSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("approved", openapi3.NewBoolSchema()).
		WithProperty("reason", openapi3.NewStringSchema())
	s.Required = []string{"approved", "reason"}
	return s
}

// Critic reviews a rendered chart against the question it should answer.
type Critic struct {
	client *llm.Client
}

func NewCritic(client *llm.Client) *Critic {
	return &Critic{client: client}
}

// Critique sends the image and the spec to the model. A reply that is not a
// well formed verdict, or a failed call, counts as approval with NoOpinion
// set. Only cancellation of ctx is returned as an error.
func (c *Critic) Critique(ctx context.Context, image []byte, spec, question string, rowCount int) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	system, text, err := prompts.Critique(ctx, question, rowCount, spec)
	if err != nil {
		return Verdict{}, err
	}

	reply, err := c.client.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		llm.ImageMessage(text, image),
	}, llm.WithJSONOutput(verdictSchema()))
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return Verdict{}, err
		}
		return noOpinion(err, "critique call failed"), nil
	}

	result, err := parsers.ParseEvaluation(reply.Text)
	if err != nil {
		v := noOpinion(err, "critique reply is not a verdict")
		v.CostUSD = reply.CostUSD
		return v, nil
	}

	verdict := metrics.VerdictRejected
	if result.Approved {
		verdict = metrics.VerdictApproved
	}
	metrics.CritiqueVerdicts.WithLabelValues(verdict).Inc()
	logx.Debug().Bool("approved", result.Approved).Str("reason", result.Reason).Msg("chart critiqued")
	return Verdict{EvaluationResult: result, CostUSD: reply.CostUSD}, nil
}

func noOpinion(err error, msg string) Verdict {
	logx.Warn().Err(err).Msg(msg + ", treating the chart as approved")
	metrics.CritiqueVerdicts.WithLabelValues(metrics.VerdictNoOpinion).Inc()
	return Verdict{EvaluationResult: model.EvaluationResult{Approved: true, NoOpinion: true}}
}
