package worker

import (
	"strings"
	"testing"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

func TestDecodeEvents(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"lifecycle","conversation_id":"c1","lifecycle":{"stage":"init"}}`,
		``,
		`not json at all`,
		`{"type":"stream_delta","conversation_id":"c1","delta":{"kind":"text_delta","text":"hi"}}`,
		`{"type":"stream_delta","conversation_id":"c1"}`,
		`{"type":"mystery","conversation_id":"c1"}`,
		`{"type":"completion","conversation_id":"c1","completion":{"stop_reason":"end_turn"}}`,
	}, "\n")

	var got []*entity.Event
	decodeEvents(strings.NewReader(input), "c1", func(ev *entity.Event) {
		got = append(got, ev)
	})

	// Blank lines, undecodable lines, shape-invalid deltas and unknown types
	// are all dropped without stopping the loop.
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Type != entity.EventLifecycle {
		t.Errorf("expected lifecycle first, got %s", got[0].Type)
	}
	if got[1].Type != entity.EventStreamDelta || got[1].Delta.Text != "hi" {
		t.Errorf("unexpected second event: %+v", got[1])
	}
	if got[2].Type != entity.EventCompletion {
		t.Errorf("expected completion last, got %s", got[2].Type)
	}
}

func TestDecodeEventsPreservesOrder(t *testing.T) {
	var lines []string
	for _, text := range []string{"a", "b", "c", "d"} {
		lines = append(lines, `{"type":"stream_delta","conversation_id":"c1","delta":{"kind":"text_delta","text":"`+text+`"}}`)
	}

	var got []string
	decodeEvents(strings.NewReader(strings.Join(lines, "\n")), "c1", func(ev *entity.Event) {
		got = append(got, ev.Delta.Text)
	})

	if strings.Join(got, "") != "abcd" {
		t.Errorf("emission order not preserved: %v", got)
	}
}
