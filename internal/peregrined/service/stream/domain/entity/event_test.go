package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
	"github.com/peregrine-desk/peregrine/pkg/utils/json"
)

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{
			name:  "valid lifecycle event",
			event: Event{Type: EventLifecycle, ConversationID: "c1"},
		},
		{
			name:  "valid delta event",
			event: Event{Type: EventStreamDelta, ConversationID: "c1", Delta: &DeltaPayload{Kind: DeltaText, Text: "hi"}},
		},
		{
			name:    "missing conversation id",
			event:   Event{Type: EventLifecycle},
			wantErr: true,
		},
		{
			name:    "unknown type",
			event:   Event{Type: "telemetry", ConversationID: "c1"},
			wantErr: true,
		},
		{
			name:    "stream_delta without payload",
			event:   Event{Type: EventStreamDelta, ConversationID: "c1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				if !errors.Is(err, errno.ErrMalformedEvent) {
					t.Errorf("expected ErrMalformedEvent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEventPersistenceCandidate(t *testing.T) {
	withUUID := Event{Type: EventAssistantMessage, ConversationID: "c1", EventUUID: "u1"}
	if !withUUID.PersistenceCandidate() {
		t.Error("event with uuid should be a persistence candidate")
	}
	withoutUUID := Event{Type: EventStreamDelta, ConversationID: "c1"}
	if withoutUUID.PersistenceCandidate() {
		t.Error("event without uuid should not be a persistence candidate")
	}
}

func TestEventTerminal(t *testing.T) {
	for _, typ := range []EventType{EventCompletion, EventError, EventAborted} {
		ev := Event{Type: typ, ConversationID: "c1"}
		if !ev.Terminal() {
			t.Errorf("%s should be terminal", typ)
		}
	}
	for _, typ := range []EventType{EventLifecycle, EventStreamDelta, EventAssistantMessage} {
		ev := Event{Type: typ, ConversationID: "c1"}
		if ev.Terminal() {
			t.Errorf("%s should not be terminal", typ)
		}
	}
}

func TestEventDecode(t *testing.T) {
	line := `{"type":"stream_delta","conversation_id":"c1","timestamp":"2026-01-02T15:04:05Z","delta":{"kind":"text_delta","block_index":0,"text":"Hel"}}`

	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventStreamDelta {
		t.Errorf("expected stream_delta, got %s", ev.Type)
	}
	if ev.Delta == nil || ev.Delta.Kind != DeltaText || ev.Delta.Text != "Hel" {
		t.Errorf("unexpected delta payload: %+v", ev.Delta)
	}
	if ev.Timestamp.IsZero() || !ev.Timestamp.Equal(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)) {
		t.Errorf("unexpected timestamp: %v", ev.Timestamp)
	}
	if err := ev.Validate(); err != nil {
		t.Errorf("decoded event should validate: %v", err)
	}
}
