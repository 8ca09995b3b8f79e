package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// ChartImageStateKey holds the name of the latest rendered chart image.
const ChartImageStateKey = "chart_image_name"

// ConversationRepository is the ordered message log of each conversation.
// A conversation that was never written reads as empty.
type ConversationRepository interface {
	// Append adds messages to the end of the log and refreshes its expiry.
	Append(ctx context.Context, conversationID string, messages ...*schema.Message) error
	// Recent returns the last n messages oldest first; n <= 0 returns all.
	Recent(ctx context.Context, conversationID string, n int) ([]*schema.Message, error)
	Len(ctx context.Context, conversationID string) (int, error)
	Clear(ctx context.Context, conversationID string) error
}

// StateStore is conversation-scoped key/value state.
// Get returns ok=false for missing keys.
type StateStore interface {
	Get(ctx context.Context, conversationID, key string) (value string, ok bool, err error)
	Set(ctx context.Context, conversationID, key, value string) error
	Delete(ctx context.Context, conversationID, key string) error
}

// ArtifactStore persists named blobs scoped to a conversation.
type ArtifactStore interface {
	Save(ctx context.Context, conversationID, name string, data []byte, mimeType string) error
	Load(ctx context.Context, conversationID, name string) ([]byte, error)
}
