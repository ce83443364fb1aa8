package entity

import (
	"time"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
)

// EventType identifies the variant of a streaming worker event.
type EventType string

const (
	// EventLifecycle carries worker init/status notices.
	EventLifecycle EventType = "lifecycle"

	// EventAssistantMessage is a complete (or updated) assistant content-block list.
	EventAssistantMessage EventType = "assistant_message"

	// EventUserMessage is an echoed prompt, a tool-result payload, or
	// synthetic system-generated content.
	EventUserMessage EventType = "user_message"

	// EventStreamDelta is one incremental streaming frame (see DeltaKind).
	EventStreamDelta EventType = "stream_delta"

	// EventSubtaskProgress is an elapsed-time ping for a nested sub-task.
	EventSubtaskProgress EventType = "subtask_progress"

	// EventCompletion is the usage/cost summary terminating a turn.
	EventCompletion EventType = "completion"

	// EventError reports a worker-side failure.
	EventError EventType = "error"

	// EventPermissionRequest asks the user to approve a pending action.
	EventPermissionRequest EventType = "permission_request"

	// EventAborted terminates a turn that was cancelled.
	EventAborted EventType = "aborted"
)

// DeltaKind identifies the sub-variant of a stream_delta event.
type DeltaKind string

const (
	DeltaMessageStart DeltaKind = "message_start"
	DeltaBlockStart   DeltaKind = "block_start"
	DeltaText         DeltaKind = "text_delta"
	DeltaThinking     DeltaKind = "thinking_delta"
	DeltaInputJSON    DeltaKind = "input_json_delta"
	DeltaBlockStop    DeltaKind = "block_stop"
	DeltaMessageStop  DeltaKind = "message_stop"
)

// Event is the envelope exchanged between a worker and the daemon, and
// forwarded verbatim to the attached client. Exactly one payload pointer is
// set, matching Type.
//
// Emission order from the worker is authoritative within a conversation; no
// component downstream may reorder events. An event carrying a non-empty
// EventUUID is a persistence candidate; all others are transient.
type Event struct {
	// Type identifies which kind of event this is.
	Type EventType `json:"type"`

	// ConversationID scopes the event. Required on every variant.
	ConversationID string `json:"conversation_id"`

	// EventUUID is the worker-assigned stable identifier for events that
	// correspond to a persistable message. Empty for transient events.
	EventUUID string `json:"event_uuid,omitempty"`

	// ParentBlockID links a sub-task's events to the tool-use block that
	// spawned it. Empty for top-level events.
	ParentBlockID string `json:"parent_block_id,omitempty"`

	// Timestamp is the worker's emission time, monotonically non-decreasing
	// within a conversation.
	Timestamp time.Time `json:"timestamp"`

	Lifecycle  *LifecyclePayload  `json:"lifecycle,omitempty"`
	Message    *MessagePayload    `json:"message,omitempty"`
	Delta      *DeltaPayload      `json:"delta,omitempty"`
	Subtask    *SubtaskPayload    `json:"subtask,omitempty"`
	Completion *CompletionPayload `json:"completion,omitempty"`
	Error      *ErrorPayload      `json:"error,omitempty"`
	Permission *PermissionPayload `json:"permission,omitempty"`
}

// LifecyclePayload carries worker init/status information.
type LifecyclePayload struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail,omitempty"`
}

// MessagePayload is the body of assistant_message and user_message events.
type MessagePayload struct {
	// Content is the ordered content-block list.
	Content []ContentBlock `json:"content"`

	// Synthetic marks system-generated content not typed by the end user.
	Synthetic bool `json:"synthetic,omitempty"`

	// Prompt marks the echoed user prompt that started the current turn.
	Prompt bool `json:"prompt,omitempty"`

	// Replay marks a redelivery during an attach-time resync. Replayed
	// user messages must never produce new transcript rows.
	Replay bool `json:"replay,omitempty"`
}

// DeltaPayload is the body of stream_delta events.
type DeltaPayload struct {
	Kind DeltaKind `json:"kind"`

	// BlockIndex addresses the block this frame belongs to.
	BlockIndex int `json:"block_index,omitempty"`

	// BlockType is set on block_start (text, thinking, tool_use).
	BlockType BlockType `json:"block_type,omitempty"`

	// ToolName is set on block_start for tool_use blocks.
	ToolName string `json:"tool_name,omitempty"`

	// Text is the fragment for text/thinking/input_json deltas.
	Text string `json:"text,omitempty"`

	// Blocks is only set on the synthetic resync message_start the router
	// sends to a re-attaching client: the in-progress block list rebuilt
	// from the stream so far.
	Blocks []ContentBlock `json:"blocks,omitempty"`

	// Resync marks the synthetic message_start as a replayed handshake
	// rather than a fresh worker frame.
	Resync bool `json:"resync,omitempty"`
}

// SubtaskPayload is the body of subtask_progress events.
type SubtaskPayload struct {
	ElapsedMillis int64  `json:"elapsed_millis"`
	Description   string `json:"description,omitempty"`
}

// CompletionPayload is the body of completion events.
type CompletionPayload struct {
	Usage          *TokenUsage `json:"usage,omitempty"`
	CostUSD        float64     `json:"cost_usd,omitempty"`
	DurationMillis int64       `json:"duration_millis,omitempty"`
	StopReason     string      `json:"stop_reason,omitempty"`
}

// ErrorPayload is the body of error events.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PermissionPayload is the body of permission_request events.
type PermissionPayload struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Input     string `json:"input,omitempty"`
}

// TokenUsage tracks token consumption for a turn or a conversation.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

var knownEventTypes = map[EventType]bool{
	EventLifecycle:         true,
	EventAssistantMessage:  true,
	EventUserMessage:       true,
	EventStreamDelta:       true,
	EventSubtaskProgress:   true,
	EventCompletion:        true,
	EventError:             true,
	EventPermissionRequest: true,
	EventAborted:           true,
}

// Validate performs shape validation only. Malformed events are dropped by
// the caller with a logged warning; they never crash the router or corrupt
// ordering for other events in the same stream.
func (e *Event) Validate() error {
	if e.ConversationID == "" {
		return errno.ErrMalformedEvent
	}
	if !knownEventTypes[e.Type] {
		return errno.ErrMalformedEvent
	}
	if e.Type == EventStreamDelta && e.Delta == nil {
		return errno.ErrMalformedEvent
	}
	return nil
}

// PersistenceCandidate reports whether the worker assigned this event a
// stable identifier, making it eligible for durable storage.
func (e *Event) PersistenceCandidate() bool {
	return e.EventUUID != ""
}

// Terminal reports whether this event ends the turn for the client-visible
// streaming state.
func (e *Event) Terminal() bool {
	switch e.Type {
	case EventCompletion, EventError, EventAborted:
		return true
	}
	return false
}
