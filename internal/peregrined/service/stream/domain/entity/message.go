package entity

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one contiguous unit of content within a message: a text
// run, a thinking run, a tool invocation, or a tool result.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text holds the content for text blocks.
	Text string `json:"text,omitempty"`

	// Thinking holds the content for thinking blocks.
	Thinking string `json:"thinking,omitempty"`

	// ToolUseID/ToolName/Input describe a tool_use block. Input is the
	// accumulated (possibly partial during streaming) JSON argument string.
	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Input     string `json:"input,omitempty"`

	// Result and IsError describe a tool_result block.
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is one durable row of the transcript.
//
// ID is globally unique per conversation: the worker's event UUID when the
// worker assigned one, otherwise a locally generated identifier. Redelivery
// of the same ID overwrites, never duplicates, the stored row.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        []ContentBlock `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`

	// ParentBlockID links a sub-task message to its originating tool-use
	// block. Empty for top-level messages.
	ParentBlockID string `json:"parent_block_id,omitempty"`

	// Synthetic marks system-generated content not typed by the end user.
	Synthetic bool `json:"synthetic,omitempty"`

	// Final is flipped by MarkFinal when the worker signals a definitive
	// end-of-turn for a message persisted earlier as an intermediate
	// snapshot. Content is immutable once Final is set.
	Final bool `json:"final,omitempty"`
}

// HasContent reports whether the message carries any non-empty block.
func (m *Message) HasContent() bool {
	for _, b := range m.Content {
		switch b.Type {
		case BlockText:
			if b.Text != "" {
				return true
			}
		case BlockThinking:
			if b.Thinking != "" {
				return true
			}
		case BlockToolUse, BlockToolResult:
			return true
		}
	}
	return false
}

// HasToolResult reports whether any block is a tool_result.
func (m *Message) HasToolResult() bool {
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}

// ContainsToolResult reports whether a block list carries a tool_result.
func ContainsToolResult(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}
