package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// jsonToolName is the forced tool that carries structured replies.
const jsonToolName = "json_response"

// AnthropicChatModel adapts the Messages API to eino's BaseChatModel.
type AnthropicChatModel struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewAnthropicChatModel(apiKey, baseURL, modelName string, temperature float32, maxTokens int) *AnthropicChatModel {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicChatModel{
		client:      anthropic.NewClient(opts...),
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

func (m *AnthropicChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	o := model.GetCommonOptions(&model.Options{
		Model:       &m.model,
		MaxTokens:   &m.maxTokens,
		Temperature: &m.temperature,
	}, opts...)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(*o.Model),
		MaxTokens: int64(*o.MaxTokens),
	}
	if o.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*o.Temperature))
	}
	if rs := ResponseSchema(opts...); rs != nil {
		params.Tools = []anthropic.ToolUnionParam{{OfTool: &anthropic.ToolParam{
			Name:        jsonToolName,
			Description: anthropic.String("Record the answer as a JSON object."),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: rs.Properties, Required: rs.Required},
		}}}
		params.ToolChoice = anthropic.ToolChoiceParamOfTool(jsonToolName)
	}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case schema.Assistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			blocks, err := userBlocks(msg)
			if err != nil {
				return nil, err
			}
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch {
		case block.Type == "text":
			text.WriteString(block.Text)
		case block.Type == "tool_use" && block.Name == jsonToolName:
			text.Reset()
			text.Write(block.Input)
		}
	}
	prompt, completion := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &schema.Message{
		Role:    schema.Assistant,
		Content: text.String(),
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(resp.StopReason),
			Usage: &schema.TokenUsage{
				PromptTokens:     prompt,
				CompletionTokens: completion,
				TotalTokens:      prompt + completion,
			},
		},
	}, nil
}

// Stream emits the full reply as a single chunk.
func (m *AnthropicChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func userBlocks(msg *schema.Message) ([]anthropic.ContentBlockParamUnion, error) {
	if len(msg.MultiContent) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}, nil
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.MultiContent))
	for _, part := range msg.MultiContent {
		switch part.Type {
		case schema.ChatMessagePartTypeText:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case schema.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			mime, data, err := splitDataURL(part.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(mime, data))
		default:
			return nil, fmt.Errorf("unsupported message part %q", part.Type)
		}
	}
	return blocks, nil
}

// splitDataURL parses "data:<mime>;base64,<payload>".
func splitDataURL(u string) (mime, payload string, err error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return "", "", fmt.Errorf("image must be an inline data URL")
	}
	head, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("malformed data URL")
	}
	mime, ok = strings.CutSuffix(head, ";base64")
	if !ok {
		return "", "", fmt.Errorf("data URL is not base64 encoded")
	}
	return mime, payload, nil
}
