package service

import (
	"strings"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/pkg/logger"
)

// AccumulatorState is the accumulator's two-state machine.
type AccumulatorState string

const (
	AccumulatorIdle      AccumulatorState = "idle"
	AccumulatorStreaming AccumulatorState = "streaming"
)

// openBlock is the accumulation buffer for the currently open block.
type openBlock struct {
	index           int
	blockType       entity.BlockType
	toolName        string
	partialText     strings.Builder
	partialThinking strings.Builder
	partialJSON     strings.Builder
}

// Accumulator reconstructs whole content blocks from streamed deltas, one
// instance per active conversation. It is purely a live view: the persisted
// message comes from the worker's own terminal assistant_message event, never
// from here.
//
// The accumulator is not goroutine-safe; each instance is owned by a single
// conversation pump (or by the client's render loop).
type Accumulator struct {
	state  AccumulatorState
	blocks []entity.ContentBlock
	open   *openBlock
}

// NewAccumulator returns an idle accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{state: AccumulatorIdle}
}

// State returns the current machine state.
func (a *Accumulator) State() AccumulatorState { return a.state }

// Active reports whether a message is currently streaming.
func (a *Accumulator) Active() bool { return a.state == AccumulatorStreaming }

// Apply feeds one event through the state machine. Deltas must be applied in
// arrival order. Malformed or unexpected frames are dropped with a warning;
// Apply never panics, since a single bad frame must not blank the live view.
func (a *Accumulator) Apply(ev *entity.Event) {
	if ev.Terminal() {
		a.Reset()
		return
	}
	if ev.Type != entity.EventStreamDelta || ev.Delta == nil {
		return
	}

	d := ev.Delta
	switch d.Kind {
	case entity.DeltaMessageStart:
		a.state = AccumulatorStreaming
		a.open = nil
		// A resync message_start carries the in-progress block list rebuilt
		// by the router; adopt it as the base view.
		if d.Resync {
			a.blocks = append([]entity.ContentBlock(nil), d.Blocks...)
		} else {
			a.blocks = nil
		}

	case entity.DeltaBlockStart:
		if a.state != AccumulatorStreaming {
			logger.Warn("[Accumulator] block_start outside a message for conversation %s, dropped", ev.ConversationID)
			return
		}
		a.finishOpenBlock()
		a.open = &openBlock{
			index:     d.BlockIndex,
			blockType: d.BlockType,
			toolName:  d.ToolName,
		}

	case entity.DeltaText, entity.DeltaThinking, entity.DeltaInputJSON:
		if a.open == nil {
			logger.Warn("[Accumulator] %s for block %d that was never started, dropped", d.Kind, d.BlockIndex)
			return
		}
		switch d.Kind {
		case entity.DeltaText:
			a.open.partialText.WriteString(d.Text)
		case entity.DeltaThinking:
			a.open.partialThinking.WriteString(d.Text)
		case entity.DeltaInputJSON:
			a.open.partialJSON.WriteString(d.Text)
		}

	case entity.DeltaBlockStop:
		if a.open == nil {
			logger.Warn("[Accumulator] block_stop without an open block, dropped")
			return
		}
		a.finishOpenBlock()

	case entity.DeltaMessageStop:
		a.Reset()

	default:
		logger.Warn("[Accumulator] unknown delta kind %q, dropped", d.Kind)
	}
}

// finishOpenBlock merges the open block's buffers into immutable block
// content and clears the buffer.
func (a *Accumulator) finishOpenBlock() {
	if a.open == nil {
		return
	}
	a.blocks = append(a.blocks, a.open.materialize())
	a.open = nil
}

func (b *openBlock) materialize() entity.ContentBlock {
	block := entity.ContentBlock{Type: b.blockType}
	switch b.blockType {
	case entity.BlockThinking:
		block.Thinking = b.partialThinking.String()
	case entity.BlockToolUse:
		block.ToolName = b.toolName
		block.Input = b.partialJSON.String()
	default:
		block.Text = b.partialText.String()
	}
	return block
}

// Snapshot returns the in-progress block list: all finalized blocks plus the
// open block materialized from its buffers. The result is a copy safe to hand
// to a resync handshake or a renderer.
func (a *Accumulator) Snapshot() []entity.ContentBlock {
	out := append([]entity.ContentBlock(nil), a.blocks...)
	if a.open != nil {
		out = append(out, a.open.materialize())
	}
	return out
}

// Reset discards all per-message state and returns to idle. Called on
// message_stop, on terminal events, and on client detach.
func (a *Accumulator) Reset() {
	a.state = AccumulatorIdle
	a.blocks = nil
	a.open = nil
}
