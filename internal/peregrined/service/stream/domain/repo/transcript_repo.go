package repo

import (
	"context"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

// TranscriptRepository is the durable ordered log of finalized messages,
// keyed by conversation.
//
// Upsert is idempotent on Message.ID: redelivery overwrites the existing
// row's mutable fields at its original position in the log, it never appends
// a duplicate. ListByConversation returns rows in worker emission order.
type TranscriptRepository interface {
	// Upsert inserts or overwrites the message row identified by msg.ID.
	Upsert(ctx context.Context, msg *entity.Message) error
	// MarkFinal flips the terminal flag of an existing row without touching
	// its content.
	MarkFinal(ctx context.Context, conversationID, messageID string) error
	// Get retrieves one message row.
	Get(ctx context.Context, conversationID, messageID string) (*entity.Message, error)
	// ListByConversation returns the ordered transcript of a conversation.
	ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error)
	// DeleteConversation removes a conversation's entire transcript.
	DeleteConversation(ctx context.Context, conversationID string) error
}
