package repo

import (
	"context"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

// ConversationRepository defines the persistence interface for Conversation
// registry rows.
type ConversationRepository interface {
	// Create stores a new conversation.
	Create(ctx context.Context, conv *entity.Conversation) error
	// Get retrieves a conversation by ID.
	Get(ctx context.Context, id string) (*entity.Conversation, error)
	// Update updates an existing conversation.
	Update(ctx context.Context, conv *entity.Conversation) error
	// Delete removes a conversation by ID.
	Delete(ctx context.Context, id string) error
	// List returns all conversations.
	List(ctx context.Context) ([]*entity.Conversation, error)
}
