package conversation

import (
	"context"
	"errors"
)

// ErrNotFound is returned for a missing conversation and for a conversation
// owned by someone else. Callers can never tell the two apart.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversations and their append-only message logs. Every
// lookup filters by (id, user) jointly.
type Store interface {
	Create(ctx context.Context, userID string) (Conversation, error)
	Get(ctx context.Context, id, userID string) (Conversation, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]Conversation, error)

	// AppendMessage inserts a message and bumps the conversation's
	// updated_at. It fails with ErrNotFound, leaving no side effect, unless
	// the conversation exists and belongs to userID. The first user message
	// also becomes the conversation title.
	AppendMessage(ctx context.Context, conversationID, userID string, role Role, content string) (Message, error)

	// Messages returns the full log in created_at ascending order. An owned
	// empty conversation yields an empty slice, not an error.
	Messages(ctx context.Context, conversationID, userID string) ([]Message, error)

	// Delete removes the conversation and cascades its messages. It reports
	// false when nothing owned by userID matched.
	Delete(ctx context.Context, conversationID, userID string) (bool, error)

	Close() error
}

// TitleFromContent derives a conversation title from its first user message.
func TitleFromContent(content string) string {
	const maxTitle = 80
	runes := []rune(content)
	if len(runes) <= maxTitle {
		return content
	}
	return string(runes[:maxTitle-1]) + "…"
}
