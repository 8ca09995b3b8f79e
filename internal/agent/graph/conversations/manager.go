package conversations

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/Chative-data-agent/server/internal/agent/model"
)

// MessagesManager keeps the question/answer history of a conversation and
// turns it into context for follow-up questions.
type MessagesManager struct {
	conversationRepo model.ConversationRepository
	maxTurns         int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		maxTurns:         config.MaxTurns,
	}
}

// RecordQuestion saves the question and returns the request the SQL loop
// should work on. Earlier turns are prepended so follow-ups resolve.
func (cm *MessagesManager) RecordQuestion(ctx context.Context, conversationID, query string) (string, error) {
	prior, err := cm.conversationRepo.Recent(ctx, conversationID, cm.maxTurns)
	if err != nil {
		return "", err
	}
	if err := cm.conversationRepo.Append(ctx, conversationID, schema.UserMessage(query)); err != nil {
		return "", err
	}

	conversationContext := buildContext(prior)
	if conversationContext == "" {
		return query, nil
	}

	var full strings.Builder
	full.WriteString(conversationContext)
	full.WriteString("\n<current_question>\n")
	full.WriteString(query)
	full.WriteString("\n</current_question>")
	return full.String(), nil
}

func buildContext(messages []*schema.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			b.WriteString("UserMessage(" + msg.Content + ")\n")
		case schema.Assistant:
			b.WriteString("AssistantMessage(" + msg.Content + ")\n")
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "<conversation_context>\n" + b.String() + "</conversation_context>"
}

func (cm *MessagesManager) SaveResponse(ctx context.Context, conversationID string, content string) error {
	return cm.conversationRepo.Append(ctx, conversationID, schema.AssistantMessage(content, nil))
}
