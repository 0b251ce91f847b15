package chat

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, int, error)
	RenameConversation(ctx context.Context, id uuid.UUID, title string) error
	DeleteConversation(ctx context.Context, id uuid.UUID) error

	CreateMessage(ctx context.Context, m *Message) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	// ListMessages returns the conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error)
	// RecentMessages returns the last n messages, oldest first.
	RecentMessages(ctx context.Context, conversationID uuid.UUID, n int) ([]*Message, error)
	CountMessages(ctx context.Context, conversationID uuid.UUID) (int, error)
}
