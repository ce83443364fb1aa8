package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/service/worker"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
)

// fakeWorker is a scriptable Worker: tests push events through emit and
// inspect the commands the router sent.
type fakeWorker struct {
	events chan *entity.Event

	mu       sync.Mutex
	commands []*entity.WorkerCommand
	stale    bool
	aborted  bool
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{events: make(chan *entity.Event, 64)}
}

func (w *fakeWorker) Events() <-chan *entity.Event { return w.events }

func (w *fakeWorker) Send(cmd *entity.WorkerCommand) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stale {
		return errno.ErrWorkerExited
	}
	w.commands = append(w.commands, cmd)
	return nil
}

func (w *fakeWorker) Abort() {
	w.mu.Lock()
	w.aborted = true
	w.mu.Unlock()
}

func (w *fakeWorker) Stale() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stale
}

func (w *fakeWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stale {
		w.stale = true
		close(w.events)
	}
}

func (w *fakeWorker) emit(ev *entity.Event) { w.events <- ev }

func (w *fakeWorker) sentCommands() []*entity.WorkerCommand {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*entity.WorkerCommand(nil), w.commands...)
}

// fakeConn records everything the router forwards to it.
type fakeConn struct {
	id string

	mu      sync.Mutex
	events  []*entity.Event
	closed  bool
	sendErr error
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev *entity.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []*entity.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*entity.Event(nil), c.events...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestRouter(t *testing.T) (*Router, *fakeWorker) {
	t.Helper()
	gw, _, _ := newTestGateway()
	w := newFakeWorker()
	spawn := func(ctx context.Context, conversationID string) (worker.Worker, error) {
		return w, nil
	}
	return NewRouter(gw, spawn, 4), w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func streamingTurn(w *fakeWorker, text string) {
	w.emit(delta(entity.DeltaMessageStart, entity.DeltaPayload{}))
	w.emit(delta(entity.DeltaBlockStart, entity.DeltaPayload{BlockIndex: 0, BlockType: entity.BlockText}))
	w.emit(delta(entity.DeltaText, entity.DeltaPayload{BlockIndex: 0, Text: text}))
}

func TestRouterStartSubmitsTurn(t *testing.T) {
	r, w := newTestRouter(t)
	defer r.Shutdown()

	if err := r.Start(context.Background(), "c1", "hello"); err != nil {
		t.Fatalf("start: %v", err)
	}

	cmds := w.sentCommands()
	if len(cmds) != 1 || cmds[0].Type != entity.WorkerCommandTurn || cmds[0].Prompt != "hello" {
		t.Fatalf("expected one turn command, got %+v", cmds)
	}

	// A second Start while the worker lives is rejected.
	err := r.Start(context.Background(), "c1", "again")
	if !errors.Is(err, errno.ErrWorkerActive) {
		t.Errorf("expected ErrWorkerActive, got %v", err)
	}
}

func TestRouterForwardsToAttachedClient(t *testing.T) {
	r, w := newTestRouter(t)
	defer r.Shutdown()

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := newFakeConn("conn-1")
	if err := r.Attach("c1", conn); err != nil {
		t.Fatalf("attach: %v", err)
	}

	streamingTurn(w, "Hel")

	waitFor(t, func() bool { return len(conn.received()) >= 3 })
	evs := conn.received()
	if evs[0].Delta == nil || evs[0].Delta.Kind != entity.DeltaMessageStart {
		t.Errorf("expected message_start first, got %+v", evs[0])
	}
}

func TestRouterAttachToUnknownConversation(t *testing.T) {
	r, _ := newTestRouter(t)
	defer r.Shutdown()

	err := r.Attach("nope", newFakeConn("conn-1"))
	if !errors.Is(err, errno.ErrNoActiveWorker) {
		t.Errorf("expected ErrNoActiveWorker, got %v", err)
	}
}

func TestRouterDetachKeepsPersisting(t *testing.T) {
	gw, transcripts, _ := newTestGateway()
	w := newFakeWorker()
	r := NewRouter(gw, func(ctx context.Context, id string) (worker.Worker, error) { return w, nil }, 4)
	defer r.Shutdown()

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := newFakeConn("conn-1")
	_ = r.Attach("c1", conn)
	r.Detach("c1", conn)

	w.emit(assistantEvent("a1", "saved while detached"))

	waitFor(t, func() bool {
		msgs, _ := transcripts.ListByConversation(context.Background(), "c1")
		return len(msgs) == 1
	})
	if len(conn.received()) != 0 {
		t.Errorf("detached client must not receive events, got %d", len(conn.received()))
	}
}

func TestRouterResyncOnReattach(t *testing.T) {
	r, w := newTestRouter(t)
	defer r.Shutdown()

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := newFakeConn("conn-1")
	_ = r.Attach("c1", first)

	streamingTurn(w, "partial")
	waitFor(t, func() bool { return len(first.received()) >= 3 })

	// A reloaded client attaches on a fresh connection mid-stream.
	second := newFakeConn("conn-2")
	if err := r.Attach("c1", second); err != nil {
		t.Fatalf("reattach: %v", err)
	}

	if !first.isClosed() {
		t.Error("displaced client must be closed")
	}

	evs := second.received()
	if len(evs) != 1 {
		t.Fatalf("expected exactly one resync event, got %d", len(evs))
	}
	re := evs[0]
	if re.Delta == nil || re.Delta.Kind != entity.DeltaMessageStart || !re.Delta.Resync {
		t.Fatalf("expected synthetic resync message_start, got %+v", re)
	}
	if len(re.Delta.Blocks) != 1 || re.Delta.Blocks[0].Text != "partial" {
		t.Errorf("resync must carry the in-progress block list, got %+v", re.Delta.Blocks)
	}

	// Live events after the displacement go only to the new client.
	w.emit(delta(entity.DeltaText, entity.DeltaPayload{BlockIndex: 0, Text: " more"}))
	waitFor(t, func() bool { return len(second.received()) == 2 })
	if len(first.received()) != 3 {
		t.Errorf("displaced client must stop receiving events, got %d", len(first.received()))
	}

	// Re-attaching the same physical connection is a no-op: no second resync.
	if err := r.Attach("c1", second); err != nil {
		t.Fatalf("same-conn attach: %v", err)
	}
	if len(second.received()) != 2 {
		t.Errorf("same connection must not receive a duplicate resync, got %d events", len(second.received()))
	}
}

func TestRouterNoResyncWhenIdle(t *testing.T) {
	r, _ := newTestRouter(t)
	defer r.Shutdown()

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := newFakeConn("conn-1")
	if err := r.Attach("c1", conn); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(conn.received()) != 0 {
		t.Errorf("attach before any streaming must not send a resync, got %d", len(conn.received()))
	}
}

func TestRouterPendingPermissionRedelivery(t *testing.T) {
	r, w := newTestRouter(t)
	defer r.Shutdown()

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := newFakeConn("conn-1")
	_ = r.Attach("c1", first)

	w.emit(&entity.Event{
		Type:           entity.EventPermissionRequest,
		ConversationID: "c1",
		Permission:     &entity.PermissionPayload{RequestID: "req-1", ToolName: "bash"},
	})
	waitFor(t, func() bool { return len(first.received()) == 1 })

	// Reload: the new connection gets the unanswered prompt again.
	second := newFakeConn("conn-2")
	_ = r.Attach("c1", second)

	evs := second.received()
	if len(evs) != 1 || evs[0].Type != entity.EventPermissionRequest {
		t.Fatalf("expected pending permission re-delivery, got %+v", evs)
	}

	// Answering clears it; the next attach sees nothing.
	if err := r.PermissionResponse("c1", "req-1", true, false); err != nil {
		t.Fatalf("permission response: %v", err)
	}
	cmds := w.sentCommands()
	last := cmds[len(cmds)-1]
	if last.Type != entity.WorkerCommandPermission || last.RequestID != "req-1" || !last.Approved {
		t.Errorf("expected permission command forwarded, got %+v", last)
	}

	third := newFakeConn("conn-3")
	_ = r.Attach("c1", third)
	if len(third.received()) != 0 {
		t.Errorf("answered permission must not be re-delivered, got %+v", third.received())
	}
}

func TestRouterAbortLiveWorker(t *testing.T) {
	r, w := newTestRouter(t)
	defer r.Shutdown()

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Abort("c1"); err != nil {
		t.Fatalf("abort: %v", err)
	}

	w.mu.Lock()
	aborted := w.aborted
	w.mu.Unlock()
	if !aborted {
		t.Error("abort must be forwarded to a live worker")
	}
}

func TestRouterAbortWithoutWorkerSynthesizes(t *testing.T) {
	r, w := newTestRouter(t)

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := newFakeConn("conn-1")
	_ = r.Attach("c1", conn)

	// Worker dies cleanly after a terminal event, conversation stays known.
	w.emit(&entity.Event{Type: entity.EventCompletion, ConversationID: "c1"})
	w.Stop()
	waitFor(t, func() bool { return !r.Active("c1") })

	if err := r.Abort("c1"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	waitFor(t, func() bool {
		for _, ev := range conn.received() {
			if ev.Type == entity.EventAborted {
				return true
			}
		}
		return false
	})
}

func TestRouterWorkerExitBeforeStreaming(t *testing.T) {
	r, w := newTestRouter(t)

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := newFakeConn("conn-1")
	_ = r.Attach("c1", conn)

	// The worker dies before emitting a single event. The attached client
	// must still see a terminal error instead of waiting forever.
	w.Stop()

	waitFor(t, func() bool {
		for _, ev := range conn.received() {
			if ev.Type == entity.EventError && ev.Error != nil && ev.Error.Code == "worker_exit" {
				return true
			}
		}
		return false
	})
	if r.Active("c1") {
		t.Error("conversation must not report an active worker after the exit")
	}
}

func TestRouterSlowClientDisconnected(t *testing.T) {
	r, w := newTestRouter(t)
	defer r.Shutdown()

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := newFakeConn("conn-1")
	conn.sendErr = errno.ErrNotAttached
	_ = r.Attach("c1", conn)

	streamingTurn(w, "x")
	waitFor(t, func() bool { return conn.isClosed() })
}

func TestRouterWorkerCrashSurfacesError(t *testing.T) {
	r, w := newTestRouter(t)

	if err := r.Start(context.Background(), "c1", "hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := newFakeConn("conn-1")
	_ = r.Attach("c1", conn)

	// Mid-turn exit without a terminal event.
	streamingTurn(w, "half")
	waitFor(t, func() bool { return len(conn.received()) >= 3 })
	w.Stop()

	waitFor(t, func() bool {
		for _, ev := range conn.received() {
			if ev.Type == entity.EventError && ev.Error != nil && ev.Error.Code == "worker_exit" {
				return true
			}
		}
		return false
	})

	// The conversation is attachable for a fresh turn afterwards.
	if r.Active("c1") {
		t.Error("conversation must not report an active worker after crash")
	}
}
