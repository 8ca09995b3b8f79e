// Package llm wraps the chat models behind the SQL, chart and critique roles.
// Every call goes through a compiled eino chain so the registered observers
// see it, and transient provider failures are retried with backoff.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/Chative-data-agent/server/internal/agent/graph/observers"
	agentmodel "github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/retry"
	"github.com/Chative-data-agent/server/internal/metrics"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// Reply is the text answer of one model call together with its accounting.
type Reply struct {
	Message *schema.Message
	Text    string
	Model   string
	Usage   *schema.TokenUsage
	CostUSD float64
}

// Settings are the per-role sampling defaults.
type Settings struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// TransientRetries bounds retries of rate limits and 5xx responses.
	TransientRetries uint
}

// Client is one model role.
type Client struct {
	settings Settings
	runnable compose.Runnable[[]*schema.Message, *schema.Message]
}

func NewClient(ctx context.Context, chat model.BaseChatModel, s Settings) (*Client, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat model for %s is nil", s.Model)
	}
	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chat, compose.WithNodeName(s.Model))
	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile %s chain: %w", s.Model, err)
	}
	return &Client{settings: s, runnable: runnable}, nil
}

func (c *Client) Model() string { return c.settings.Model }

// CallOption overrides a sampling default for a single call.
type CallOption func(*callOptions)

type callOptions struct {
	temperature    float32
	maxTokens      int
	responseSchema *openapi3.Schema
}

func WithTemperature(t float32) CallOption {
	return func(o *callOptions) { o.temperature = t }
}

// WithJSONOutput switches the call to structured output: the reply is a JSON
// object matching schema. Gemini receives it as the response schema with the
// application/json MIME type, Anthropic as a forced tool call.
func WithJSONOutput(schema *openapi3.Schema) CallOption {
	return func(o *callOptions) { o.responseSchema = schema }
}

type providerOptions struct {
	responseSchema *openapi3.Schema
}

func withResponseSchema(schema *openapi3.Schema) model.Option {
	return model.WrapImplSpecificOptFn(func(o *providerOptions) { o.responseSchema = schema })
}

// ResponseSchema returns the schema requested through WithJSONOutput, or nil.
func ResponseSchema(opts ...model.Option) *openapi3.Schema {
	return model.GetImplSpecificOptions(&providerOptions{}, opts...).responseSchema
}

// Generate sends msgs and returns the reply text. Errors are classified
// through Classify so callers can tell retryable ones apart.
func (c *Client) Generate(ctx context.Context, msgs []*schema.Message, opts ...CallOption) (*Reply, error) {
	o := callOptions{temperature: c.settings.Temperature, maxTokens: c.settings.MaxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	modelOpts := []model.Option{model.WithTemperature(o.temperature)}
	if o.maxTokens > 0 {
		modelOpts = append(modelOpts, model.WithMaxTokens(o.maxTokens))
	}
	if o.responseSchema != nil {
		modelOpts = append(modelOpts, gemini.WithResponseSchema(o.responseSchema), withResponseSchema(o.responseSchema))
	}

	out, err := retry.Transient(ctx, "llm:"+c.settings.Model, c.settings.TransientRetries, func(ctx context.Context) (*schema.Message, error) {
		msg, err := c.runnable.Invoke(ctx, msgs,
			compose.WithChatModelOption(modelOpts...),
			compose.WithCallbacks(observers.NewAllCallbacks()),
		)
		if err != nil {
			return nil, Classify(err)
		}
		return msg, nil
	})
	if err != nil {
		metrics.ObserveLLMCall(c.settings.Model, 0, err)
		return nil, err
	}
	if out == nil {
		err := fmt.Errorf("model %s returned no message", c.settings.Model)
		metrics.ObserveLLMCall(c.settings.Model, 0, err)
		return nil, err
	}

	reply := &Reply{Message: out, Text: strings.TrimSpace(out.Content), Model: c.settings.Model}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		reply.Usage = out.ResponseMeta.Usage
		reply.CostUSD = agentmodel.CostOf(c.settings.Model, reply.Usage)
		logx.Debug().
			Str("model", c.settings.Model).
			Int("prompt_tokens", reply.Usage.PromptTokens).
			Int("completion_tokens", reply.Usage.CompletionTokens).
			Int("total_tokens", reply.Usage.TotalTokens).
			Float64("total_cost_usd", reply.CostUSD).
			Msg("LLM usage")
	}
	metrics.ObserveLLMCall(c.settings.Model, reply.CostUSD, nil)
	return reply, nil
}
