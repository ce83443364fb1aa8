package v1

import (
	"time"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

// ConversationResponse is the response for conversation endpoints.
type ConversationResponse struct {
	ID        string             `json:"id"`
	Title     string             `json:"title,omitempty"`
	TurnCount int                `json:"turn_count"`
	Usage     *entity.TokenUsage `json:"usage,omitempty"`
	CostUSD   float64            `json:"cost_usd,omitempty"`
	Active    bool               `json:"active"`
	CreatedAt string             `json:"created_at"`
	UpdatedAt string             `json:"updated_at"`
}

// MessageResponse is a single transcript row in API responses.
type MessageResponse struct {
	ID            string                `json:"id"`
	Role          entity.Role           `json:"role"`
	Content       []entity.ContentBlock `json:"content"`
	ParentBlockID string                `json:"parent_block_id,omitempty"`
	Synthetic     bool                  `json:"synthetic,omitempty"`
	Final         bool                  `json:"final"`
	Timestamp     string                `json:"timestamp"`
}

// AbortRequest is the request body for POST /v1/conversations/:id/abort.
type AbortRequest struct {
	Reason string `json:"reason,omitempty"`
}

const timeFormat = time.RFC3339

// FormatTime formats a time value for API responses.
func FormatTime(t time.Time) string {
	return t.Format(timeFormat)
}

func toConversationResponse(conv *entity.Conversation, active bool) ConversationResponse {
	return ConversationResponse{
		ID:        conv.ID,
		Title:     conv.Title,
		TurnCount: conv.TurnCount,
		Usage:     conv.Usage,
		CostUSD:   conv.CostUSD,
		Active:    active,
		CreatedAt: FormatTime(conv.CreatedAt),
		UpdatedAt: FormatTime(conv.UpdatedAt),
	}
}

func toMessageResponse(msg *entity.Message) MessageResponse {
	return MessageResponse{
		ID:            msg.ID,
		Role:          msg.Role,
		Content:       msg.Content,
		ParentBlockID: msg.ParentBlockID,
		Synthetic:     msg.Synthetic,
		Final:         msg.Final,
		Timestamp:     FormatTime(msg.Timestamp),
	}
}
