package llm

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	agentmodel "github.com/Chative-data-agent/server/internal/agent/model"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Models holds one client per role.
type Models struct {
	SQL      *Client
	Chart    *Client
	ChartFix *Client
	Critique *Client
}

type ModelsConfig struct {
	LLM      agentmodel.LLMConfig
	SQL      agentmodel.SQLModelConfig
	Chart    agentmodel.ChartModelConfig
	Critique agentmodel.CritiqueModelConfig
}

// NewModels creates the chat models of every role on the configured provider.
func NewModels(ctx context.Context, cfg ModelsConfig) (*Models, error) {
	factory, err := newFactory(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	build := func(s Settings) (*Client, error) {
		s.TransientRetries = cfg.LLM.TransientRetries
		chat, err := factory(ctx, s)
		if err != nil {
			logx.Error().Err(err).Str("model", s.Model).Msg("Error creating chat model")
			return nil, fmt.Errorf("error creating %s model: %w", s.Model, err)
		}
		return NewClient(ctx, chat, s)
	}

	m := &Models{}
	if m.SQL, err = build(Settings{Model: cfg.SQL.Model, Temperature: cfg.SQL.Temperature, MaxTokens: cfg.SQL.MaxTokens}); err != nil {
		return nil, err
	}
	if m.Chart, err = build(Settings{Model: cfg.Chart.Model, Temperature: cfg.Chart.Temperature, MaxTokens: cfg.Chart.MaxTokens}); err != nil {
		return nil, err
	}
	if m.ChartFix, err = build(Settings{Model: cfg.Chart.FixModel, Temperature: cfg.Chart.Temperature, MaxTokens: cfg.Chart.MaxTokens}); err != nil {
		return nil, err
	}
	if m.Critique, err = build(Settings{Model: cfg.Critique.Model, Temperature: cfg.Critique.Temperature, MaxTokens: cfg.Critique.MaxTokens}); err != nil {
		return nil, err
	}
	return m, nil
}

type chatFactory func(ctx context.Context, s Settings) (model.BaseChatModel, error)

func newFactory(ctx context.Context, cfg agentmodel.LLMConfig) (chatFactory, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		clientCfg := &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if cfg.GeminiBaseURL != "" {
			clientCfg.HTTPOptions.BaseURL = cfg.GeminiBaseURL
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			logx.Error().Err(err).Msg("Error creating Gemini client")
			return nil, fmt.Errorf("error creating Gemini client: %w", err)
		}
		return func(ctx context.Context, s Settings) (model.BaseChatModel, error) {
			temperature, maxTokens := s.Temperature, s.MaxTokens
			chat, err := gemini.NewChatModel(ctx, &gemini.Config{
				Client:      client,
				Model:       s.Model,
				Temperature: &temperature,
				MaxTokens:   &maxTokens,
				ThinkingConfig: &genai.ThinkingConfig{
					IncludeThoughts: false,
					ThinkingBudget:  genai.Ptr(int32(2000)),
				},
			})
			if err != nil {
				return nil, err
			}
			return chat, nil
		}, nil

	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return func(_ context.Context, s Settings) (model.BaseChatModel, error) {
			return NewAnthropicChatModel(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, s.Model, s.Temperature, s.MaxTokens), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// ImageMessage builds a user message carrying text and a PNG image inline.
func ImageMessage(text string, png []byte) *schema.Message {
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: text},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
					MIMEType: "image/png",
				},
			},
		},
	}
}
