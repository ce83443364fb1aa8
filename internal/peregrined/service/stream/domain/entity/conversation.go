package entity

import (
	"time"
)

// Conversation is the registry row for one conversation: identity plus the
// running usage/cost counters folded in from completion events. The message
// history itself lives in the transcript store, not here.
type Conversation struct {
	// ID is the unique conversation identifier.
	ID string `json:"id"`

	// Title is a short human-readable label (first prompt excerpt).
	Title string `json:"title,omitempty"`

	// Usage accumulates token usage across all completed turns.
	Usage *TokenUsage `json:"usage,omitempty"`

	// CostUSD accumulates reported cost across all completed turns.
	CostUSD float64 `json:"cost_usd,omitempty"`

	// TurnCount is the number of completed turns.
	TurnCount int `json:"turn_count,omitempty"`

	// CreatedAt is when this conversation was first started.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this conversation last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// ApplyCompletion folds one turn's completion summary into the counters.
func (c *Conversation) ApplyCompletion(completion *CompletionPayload) {
	if completion == nil {
		return
	}
	if completion.Usage != nil {
		if c.Usage == nil {
			c.Usage = &TokenUsage{}
		}
		c.Usage.Add(completion.Usage)
	}
	c.CostUSD += completion.CostUSD
	c.TurnCount++
	c.UpdatedAt = time.Now()
}
