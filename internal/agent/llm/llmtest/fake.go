// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Response is one scripted turn: either a reply text or an error.
type Response struct {
	Text  string
	Err   error
	Usage *schema.TokenUsage
}

// Call records what the model received.
type Call struct {
	Messages    []*schema.Message
	Temperature *float32
	MaxTokens   *int
	// Options are the raw options, for provider specific ones.
	Options []model.Option
}

// ChatModel replays Responses in order and records every call. Once the
// script is spent, Fallback answers (or the call fails when it is nil).
type ChatModel struct {
	mu        sync.Mutex
	responses []Response
	Fallback  func(msgs []*schema.Message) Response
	calls     []Call
}

func NewChatModel(responses ...Response) *ChatModel {
	return &ChatModel{responses: responses}
}

// Texts scripts plain text replies.
func Texts(texts ...string) *ChatModel {
	rs := make([]Response, len(texts))
	for i, t := range texts {
		rs[i] = Response{Text: t}
	}
	return NewChatModel(rs...)
}

func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	o := model.GetCommonOptions(&model.Options{}, opts...)

	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]*schema.Message, len(input))
	copy(copied, input)
	m.calls = append(m.calls, Call{Messages: copied, Temperature: o.Temperature, MaxTokens: o.MaxTokens, Options: opts})

	var r Response
	switch {
	case len(m.responses) > 0:
		r, m.responses = m.responses[0], m.responses[1:]
	case m.Fallback != nil:
		r = m.Fallback(copied)
	default:
		return nil, fmt.Errorf("llmtest: no scripted response for call %d", len(m.calls))
	}
	if r.Err != nil {
		return nil, r.Err
	}
	msg := schema.AssistantMessage(r.Text, nil)
	if r.Usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: r.Usage}
	}
	return msg, nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *ChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastText returns the text of the final message of call i, including the
// text parts of multimodal messages.
func (m *ChatModel) LastText(i int) string {
	calls := m.Calls()
	if i < 0 || i >= len(calls) || len(calls[i].Messages) == 0 {
		return ""
	}
	return MessageText(calls[i].Messages[len(calls[i].Messages)-1])
}

func MessageText(msg *schema.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Content != "" {
		return msg.Content
	}
	for _, p := range msg.MultiContent {
		if p.Type == schema.ChatMessagePartTypeText {
			return p.Text
		}
	}
	return ""
}
