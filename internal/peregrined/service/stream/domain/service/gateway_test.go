package service

import (
	"context"
	"testing"
	"time"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/store/inmemory"
)

func newTestGateway() (*Gateway, *inmemory.TranscriptStore, *inmemory.ConversationStore) {
	transcripts := inmemory.NewTranscriptStore()
	convs := inmemory.NewConversationStore()
	return NewGateway(transcripts, convs), transcripts, convs
}

func assistantEvent(uuid, text string) *entity.Event {
	return &entity.Event{
		Type:           entity.EventAssistantMessage,
		ConversationID: "c1",
		EventUUID:      uuid,
		Timestamp:      time.Now(),
		Message: &entity.MessagePayload{
			Content: []entity.ContentBlock{{Type: entity.BlockText, Text: text}},
		},
	}
}

func TestGatewayIdempotentUpsert(t *testing.T) {
	gw, transcripts, _ := newTestGateway()
	ctx := context.Background()

	first := gw.HandleEvent(ctx, assistantEvent("u1", "draft"), nil)
	if first.Persisted == nil {
		t.Fatal("expected a persisted row")
	}

	// Redelivery with the same event uuid overwrites in place.
	second := gw.HandleEvent(ctx, assistantEvent("u1", "final text"), nil)
	if second.Persisted == nil {
		t.Fatal("expected the redelivery to persist")
	}

	msgs, err := transcripts.ListByConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 row after redelivery, got %d", len(msgs))
	}
	if msgs[0].Content[0].Text != "final text" {
		t.Errorf("redelivery should overwrite content, got %q", msgs[0].Content[0].Text)
	}
}

func TestGatewayOrderPreservedUnderRedelivery(t *testing.T) {
	gw, transcripts, _ := newTestGateway()
	ctx := context.Background()

	gw.HandleEvent(ctx, assistantEvent("u1", "first"), nil)
	gw.HandleEvent(ctx, assistantEvent("u2", "second"), nil)
	gw.HandleEvent(ctx, assistantEvent("u1", "first, updated"), nil)

	msgs, _ := transcripts.ListByConversation(ctx, "c1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(msgs))
	}
	if msgs[0].ID != "u1" || msgs[1].ID != "u2" {
		t.Errorf("redelivery must keep the original log position: %s, %s", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Content[0].Text != "first, updated" {
		t.Errorf("expected updated content at original position, got %q", msgs[0].Content[0].Text)
	}
}

func TestGatewayEmptyAssistantMessageSkipped(t *testing.T) {
	gw, transcripts, _ := newTestGateway()
	ctx := context.Background()

	res := gw.HandleEvent(ctx, assistantEvent("u1", ""), nil)
	if res.Persisted != nil {
		t.Error("empty assistant message must not be persisted")
	}
	msgs, _ := transcripts.ListByConversation(ctx, "c1")
	if len(msgs) != 0 {
		t.Errorf("expected no rows, got %d", len(msgs))
	}
}

func TestGatewayUserMessageRules(t *testing.T) {
	tests := []struct {
		name    string
		payload entity.MessagePayload
		persist bool
	}{
		{
			name: "prompt is persisted",
			payload: entity.MessagePayload{
				Prompt:  true,
				Content: []entity.ContentBlock{{Type: entity.BlockText, Text: "do it"}},
			},
			persist: true,
		},
		{
			name: "synthetic is persisted",
			payload: entity.MessagePayload{
				Synthetic: true,
				Content:   []entity.ContentBlock{{Type: entity.BlockText, Text: "context added"}},
			},
			persist: true,
		},
		{
			name: "tool result is persisted",
			payload: entity.MessagePayload{
				Content: []entity.ContentBlock{{Type: entity.BlockToolResult, Result: "ok"}},
			},
			persist: true,
		},
		{
			name: "plain echo is transient",
			payload: entity.MessagePayload{
				Content: []entity.ContentBlock{{Type: entity.BlockText, Text: "echo"}},
			},
			persist: false,
		},
		{
			name: "replayed prompt is suppressed",
			payload: entity.MessagePayload{
				Prompt:  true,
				Replay:  true,
				Content: []entity.ContentBlock{{Type: entity.BlockText, Text: "do it"}},
			},
			persist: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, transcripts, _ := newTestGateway()
			ctx := context.Background()

			payload := tt.payload
			res := gw.HandleEvent(ctx, &entity.Event{
				Type:           entity.EventUserMessage,
				ConversationID: "c1",
				EventUUID:      "u1",
				Timestamp:      time.Now(),
				Message:        &payload,
			}, nil)

			msgs, _ := transcripts.ListByConversation(ctx, "c1")
			if tt.persist {
				if res.Persisted == nil || len(msgs) != 1 {
					t.Errorf("expected persistence, got result=%+v rows=%d", res.Persisted, len(msgs))
				}
			} else {
				if res.Persisted != nil || len(msgs) != 0 {
					t.Errorf("expected no persistence, got result=%+v rows=%d", res.Persisted, len(msgs))
				}
			}
		})
	}
}

func TestGatewayPromptCreatesConversation(t *testing.T) {
	gw, _, convs := newTestGateway()
	ctx := context.Background()

	longPrompt := "Please summarize everything in the repository and then write a detailed report about it covering all modules"
	gw.HandleEvent(ctx, &entity.Event{
		Type:           entity.EventUserMessage,
		ConversationID: "c1",
		EventUUID:      "u1",
		Timestamp:      time.Now(),
		Message: &entity.MessagePayload{
			Prompt:  true,
			Content: []entity.ContentBlock{{Type: entity.BlockText, Text: longPrompt}},
		},
	}, nil)

	conv, err := convs.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("expected conversation row: %v", err)
	}
	if len(conv.Title) != 80 {
		t.Errorf("expected title truncated to 80 chars, got %d", len(conv.Title))
	}
}

func TestGatewayCompletionMarksFinalAndFoldsUsage(t *testing.T) {
	gw, transcripts, convs := newTestGateway()
	ctx := context.Background()

	gw.HandleEvent(ctx, &entity.Event{
		Type:           entity.EventUserMessage,
		ConversationID: "c1",
		EventUUID:      "p1",
		Timestamp:      time.Now(),
		Message: &entity.MessagePayload{
			Prompt:  true,
			Content: []entity.ContentBlock{{Type: entity.BlockText, Text: "hi"}},
		},
	}, nil)
	gw.HandleEvent(ctx, assistantEvent("a1", "hello"), nil)

	gw.HandleEvent(ctx, &entity.Event{
		Type:           entity.EventCompletion,
		ConversationID: "c1",
		Timestamp:      time.Now(),
		Completion: &entity.CompletionPayload{
			Usage:   &entity.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			CostUSD: 0.01,
		},
	}, nil)

	msg, err := transcripts.Get(ctx, "c1", "a1")
	if err != nil {
		t.Fatalf("get assistant row: %v", err)
	}
	if !msg.Final {
		t.Error("completion must mark the last assistant message final")
	}

	conv, _ := convs.Get(ctx, "c1")
	if conv.TurnCount != 1 {
		t.Errorf("expected 1 completed turn, got %d", conv.TurnCount)
	}
	if conv.Usage == nil || conv.Usage.TotalTokens != 15 {
		t.Errorf("usage not folded in: %+v", conv.Usage)
	}
	if conv.CostUSD != 0.01 {
		t.Errorf("cost not folded in: %v", conv.CostUSD)
	}

	// A second completion without a new assistant message is a no-op for
	// final-marking.
	res := gw.HandleEvent(ctx, &entity.Event{
		Type:           entity.EventCompletion,
		ConversationID: "c1",
		Timestamp:      time.Now(),
	}, nil)
	if res.Warn != nil {
		t.Errorf("unexpected warning: %v", res.Warn)
	}
}

func TestGatewayThinkingReconciliation(t *testing.T) {
	gw, transcripts, _ := newTestGateway()
	ctx := context.Background()

	streamed := []entity.ContentBlock{
		{Type: entity.BlockThinking, Thinking: "pondering"},
		{Type: entity.BlockText, Text: "hello"},
	}

	// Worker-final content omits the thinking block that only existed in the
	// delta stream; the streamed thinking is prepended.
	gw.HandleEvent(ctx, assistantEvent("a1", "hello"), streamed)

	msg, err := transcripts.Get(ctx, "c1", "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(msg.Content) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(msg.Content))
	}
	if msg.Content[0].Type != entity.BlockThinking || msg.Content[0].Thinking != "pondering" {
		t.Errorf("expected streamed thinking prepended, got %+v", msg.Content[0])
	}
	if msg.Content[1].Text != "hello" {
		t.Errorf("worker-final text must stay authoritative, got %+v", msg.Content[1])
	}

	// When the final content already carries thinking, the stream fills
	// nothing.
	ev := &entity.Event{
		Type:           entity.EventAssistantMessage,
		ConversationID: "c1",
		EventUUID:      "a2",
		Timestamp:      time.Now(),
		Message: &entity.MessagePayload{
			Content: []entity.ContentBlock{
				{Type: entity.BlockThinking, Thinking: "authoritative"},
				{Type: entity.BlockText, Text: "done"},
			},
		},
	}
	gw.HandleEvent(ctx, ev, streamed)
	msg2, _ := transcripts.Get(ctx, "c1", "a2")
	if len(msg2.Content) != 2 || msg2.Content[0].Thinking != "authoritative" {
		t.Errorf("worker-final thinking must win: %+v", msg2.Content)
	}
}

func TestGatewayTailSubscription(t *testing.T) {
	gw, _, _ := newTestGateway()
	ctx := context.Background()

	ch, cancel := gw.SubscribeTail("c1")
	defer cancel()

	gw.HandleEvent(ctx, assistantEvent("a1", "hello"), nil)

	select {
	case msg := <-ch:
		if msg.ID != "a1" {
			t.Errorf("expected a1, got %s", msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a tail notification")
	}

	// Other conversations are filtered out.
	gw.HandleEvent(ctx, &entity.Event{
		Type:           entity.EventAssistantMessage,
		ConversationID: "c2",
		EventUUID:      "b1",
		Timestamp:      time.Now(),
		Message: &entity.MessagePayload{
			Content: []entity.ContentBlock{{Type: entity.BlockText, Text: "other"}},
		},
	}, nil)

	select {
	case msg := <-ch:
		t.Errorf("unexpected notification for other conversation: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
