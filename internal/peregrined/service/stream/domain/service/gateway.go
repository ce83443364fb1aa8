package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/repo"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
	"github.com/peregrine-desk/peregrine/pkg/logger"
)

// Gateway is the persistence gateway: it evaluates every worker event
// independently of client forwarding, decides which events become durable
// Message rows, and performs idempotent writes against the transcript store.
//
// Persistence is never conditional on UI presence, and a write failure never
// interrupts the live stream: failed writes are retried once and then
// surfaced to the caller as a warning.
type Gateway struct {
	transcripts repo.TranscriptRepository
	convs       repo.ConversationRepository

	mu sync.Mutex
	// lastAssistant tracks, per conversation, the id of the most recently
	// persisted assistant message so a completion event can mark it final.
	lastAssistant map[string]string

	subMu   sync.Mutex
	subs    map[int]*tailSub
	nextSub int
}

type tailSub struct {
	conversationID string
	ch             chan *entity.Message
}

// NewGateway creates a persistence gateway over the given stores.
func NewGateway(transcripts repo.TranscriptRepository, convs repo.ConversationRepository) *Gateway {
	return &Gateway{
		transcripts:   transcripts,
		convs:         convs,
		lastAssistant: make(map[string]string),
		subs:          make(map[int]*tailSub),
	}
}

// GatewayResult describes what HandleEvent did with one event.
type GatewayResult struct {
	// Persisted is the message row written, if any.
	Persisted *entity.Message

	// Warn is a non-fatal persistence failure the caller should surface to
	// any attached client. The event itself must still be forwarded for
	// display so visible content is never silently lost.
	Warn error
}

// HandleEvent evaluates one worker event for durability. streamed is the
// router's accumulator snapshot for the in-flight message, used to fill
// fields the worker's terminal content leaves empty (thinking captured only
// from deltas). Worker-final content stays authoritative.
func (g *Gateway) HandleEvent(ctx context.Context, ev *entity.Event, streamed []entity.ContentBlock) GatewayResult {
	switch ev.Type {
	case entity.EventAssistantMessage:
		return g.handleAssistantMessage(ctx, ev, streamed)
	case entity.EventUserMessage:
		return g.handleUserMessage(ctx, ev)
	case entity.EventCompletion:
		return g.handleCompletion(ctx, ev)
	default:
		// stream_delta, subtask_progress, lifecycle, error, aborted,
		// permission_request: transient, never stored.
		return GatewayResult{}
	}
}

func (g *Gateway) handleAssistantMessage(ctx context.Context, ev *entity.Event, streamed []entity.ContentBlock) GatewayResult {
	if ev.Message == nil {
		return GatewayResult{}
	}

	msg := &entity.Message{
		ID:             g.messageID(ev),
		ConversationID: ev.ConversationID,
		Role:           entity.RoleAssistant,
		Content:        reconcileStreamed(ev.Message.Content, streamed),
		Timestamp:      ev.Timestamp,
		ParentBlockID:  ev.ParentBlockID,
	}
	if !msg.HasContent() {
		return GatewayResult{}
	}

	if err := g.upsert(ctx, msg); err != nil {
		return GatewayResult{Warn: err}
	}

	g.mu.Lock()
	g.lastAssistant[ev.ConversationID] = msg.ID
	g.mu.Unlock()

	g.notifyTail(msg)
	return GatewayResult{Persisted: msg}
}

func (g *Gateway) handleUserMessage(ctx context.Context, ev *entity.Event) GatewayResult {
	if ev.Message == nil {
		return GatewayResult{}
	}

	// Replay suppression: a user message redelivered during an attach-time
	// resync must never produce a new row, regardless of transcript state.
	if ev.Message.Replay {
		logger.DebugX(ModuleName, "[Gateway] replayed user message for conversation %s skipped", ev.ConversationID)
		return GatewayResult{}
	}

	persistable := ev.Message.Synthetic ||
		ev.Message.Prompt ||
		entity.ContainsToolResult(ev.Message.Content)
	if !persistable {
		return GatewayResult{}
	}

	msg := &entity.Message{
		ID:             g.messageID(ev),
		ConversationID: ev.ConversationID,
		Role:           entity.RoleUser,
		Content:        ev.Message.Content,
		Timestamp:      ev.Timestamp,
		ParentBlockID:  ev.ParentBlockID,
		Synthetic:      ev.Message.Synthetic,
	}

	if err := g.upsert(ctx, msg); err != nil {
		return GatewayResult{Warn: err}
	}

	if ev.Message.Prompt {
		g.ensureConversation(ctx, ev.ConversationID, msg)
	}

	g.notifyTail(msg)
	return GatewayResult{Persisted: msg}
}

func (g *Gateway) handleCompletion(ctx context.Context, ev *entity.Event) GatewayResult {
	// A completion is not itself stored as a Message row; it folds into the
	// conversation's running usage/cost counters and finalizes the turn's
	// last persisted assistant message.
	conv, err := g.convs.Get(ctx, ev.ConversationID)
	if err == nil {
		conv.ApplyCompletion(ev.Completion)
		if err := g.convs.Update(ctx, conv); err != nil {
			logger.Warn("[Gateway] usage counter update for conversation %s failed: %v", ev.ConversationID, err)
		}
	}

	g.mu.Lock()
	last := g.lastAssistant[ev.ConversationID]
	delete(g.lastAssistant, ev.ConversationID)
	g.mu.Unlock()

	if last == "" {
		return GatewayResult{}
	}
	if err := g.transcripts.MarkFinal(ctx, ev.ConversationID, last); err != nil {
		return GatewayResult{Warn: err}
	}
	return GatewayResult{}
}

// upsert writes the row, retrying once before giving up.
func (g *Gateway) upsert(ctx context.Context, msg *entity.Message) error {
	err := g.transcripts.Upsert(ctx, msg)
	if err == nil {
		return nil
	}
	logger.Warn("[Gateway] upsert %s/%s failed, retrying once: %v", msg.ConversationID, msg.ID, err)
	if err = g.transcripts.Upsert(ctx, msg); err != nil {
		logger.Error("[Gateway] upsert %s/%s failed after retry: %v", msg.ConversationID, msg.ID, err)
		return err
	}
	return nil
}

// messageID returns the worker's stable identifier when present, else a
// locally generated one.
func (g *Gateway) messageID(ev *entity.Event) string {
	if ev.EventUUID != "" {
		return ev.EventUUID
	}
	return uuid.New().String()
}

// ensureConversation creates the registry row on the first persisted prompt,
// titling it from the prompt text.
func (g *Gateway) ensureConversation(ctx context.Context, conversationID string, prompt *entity.Message) {
	if _, err := g.convs.Get(ctx, conversationID); err == nil {
		return
	} else if !errors.Is(err, errno.ErrConversationNotFound) {
		logger.Warn("[Gateway] conversation lookup %s failed: %v", conversationID, err)
	}

	now := time.Now()
	conv := &entity.Conversation{
		ID:        conversationID,
		Title:     titleFromPrompt(prompt),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.convs.Create(ctx, conv); err != nil {
		logger.Warn("[Gateway] conversation create %s failed: %v", conversationID, err)
	}
}

func titleFromPrompt(msg *entity.Message) string {
	for _, b := range msg.Content {
		if b.Type == entity.BlockText && b.Text != "" {
			title := strings.TrimSpace(b.Text)
			if len(title) > 80 {
				title = title[:80]
			}
			return title
		}
	}
	return ""
}

// reconcileStreamed fills fields the worker's final content leaves empty from
// the stream-derived block list. Worker-final content is authoritative; in
// particular, when the terminal event omits thinking blocks that were
// captured from deltas, the streamed thinking blocks are prepended.
func reconcileStreamed(final, streamed []entity.ContentBlock) []entity.ContentBlock {
	if len(streamed) == 0 {
		return final
	}
	if len(final) == 0 {
		return streamed
	}

	hasThinking := false
	for _, b := range final {
		if b.Type == entity.BlockThinking {
			hasThinking = true
			break
		}
	}
	if hasThinking {
		return final
	}

	var fill []entity.ContentBlock
	for _, b := range streamed {
		if b.Type == entity.BlockThinking && b.Thinking != "" {
			fill = append(fill, b)
		}
	}
	if len(fill) == 0 {
		return final
	}
	return append(fill, final...)
}

// SubscribeTail registers a follower of newly persisted messages for one
// conversation (empty id follows all). This feeds read-only consumers such as
// the SSE tail endpoint; a follower that cannot keep up misses notifications
// but can always re-read the durable log.
func (g *Gateway) SubscribeTail(conversationID string) (<-chan *entity.Message, func()) {
	g.subMu.Lock()
	defer g.subMu.Unlock()

	id := g.nextSub
	g.nextSub++
	sub := &tailSub{
		conversationID: conversationID,
		ch:             make(chan *entity.Message, 64),
	}
	g.subs[id] = sub

	cancel := func() {
		g.subMu.Lock()
		defer g.subMu.Unlock()
		if s, ok := g.subs[id]; ok {
			delete(g.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

func (g *Gateway) notifyTail(msg *entity.Message) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	for _, sub := range g.subs {
		if sub.conversationID != "" && sub.conversationID != msg.ConversationID {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			logger.Debug("[Gateway] tail subscriber lagging, notification skipped")
		}
	}
}
