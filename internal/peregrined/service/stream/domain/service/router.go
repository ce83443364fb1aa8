package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/service/worker"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
	"github.com/peregrine-desk/peregrine/pkg/logger"
	"github.com/peregrine-desk/peregrine/pkg/utils/safego"
)

// WorkerFactory spawns the agent process for one conversation.
type WorkerFactory func(ctx context.Context, conversationID string) (worker.Worker, error)

// Router owns the mapping from conversation id to exactly one live worker and
// at most one attached client connection, and runs the attach/detach/replay
// protocol.
//
// Each conversation has a single pump goroutine consuming its worker's event
// stream in arrival order; forwarding to the attached client and evaluation
// by the persistence gateway happen per event and independently, so a slow or
// absent client never stalls persistence and a persistence failure never
// hides the live stream.
type Router struct {
	gateway *Gateway
	spawn   WorkerFactory
	sem     *semaphore.Weighted

	mu    sync.Mutex
	convs map[string]*conversation
}

// conversation is the router's per-conversation state. client, pending,
// streamedTurn and the accumulator are guarded by mu; the accumulator is
// mutated only by the pump goroutine, so mu is held just long enough for
// Attach to take a consistent snapshot. worker is replaced only under the
// router lock.
type conversation struct {
	id string

	mu      sync.Mutex
	client  ClientConn
	pending []*entity.Event

	worker worker.Worker
	acc    *Accumulator

	// streamedTurn is the accumulator snapshot captured at message_stop,
	// kept until the worker's terminal assistant_message arrives so the
	// gateway can reconcile stream-only fields (thinking).
	streamedTurn []entity.ContentBlock

	// sawTerminal tracks whether the current turn ended cleanly; a worker
	// exit without one is surfaced as a terminal error.
	sawTerminal bool
}

// NewRouter creates a session router. maxWorkers bounds the number of
// concurrently live agent processes across all conversations.
func NewRouter(gateway *Gateway, spawn WorkerFactory, maxWorkers int64) *Router {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Router{
		gateway: gateway,
		spawn:   spawn,
		sem:     semaphore.NewWeighted(maxWorkers),
		convs:   make(map[string]*conversation),
	}
}

// Start spawns (or rebinds to) a worker for the conversation and submits the
// user turn. It fails with errno.ErrWorkerActive when a non-stale worker
// already owns the conversation.
func (r *Router) Start(ctx context.Context, conversationID, prompt string) error {
	r.mu.Lock()
	cs, ok := r.convs[conversationID]
	if !ok {
		cs = &conversation{id: conversationID, acc: NewAccumulator()}
		r.convs[conversationID] = cs
	}
	if cs.worker != nil && !cs.worker.Stale() {
		r.mu.Unlock()
		return fmt.Errorf("conversation %s: %w", conversationID, errno.ErrWorkerActive)
	}

	if !r.sem.TryAcquire(1) {
		r.mu.Unlock()
		return fmt.Errorf("conversation %s: worker limit reached", conversationID)
	}

	w, err := r.spawn(ctx, conversationID)
	if err != nil {
		r.sem.Release(1)
		r.mu.Unlock()
		return fmt.Errorf("spawn worker for conversation %s: %w", conversationID, err)
	}
	cs.worker = w
	r.mu.Unlock()

	cs.mu.Lock()
	cs.sawTerminal = false
	cs.mu.Unlock()

	safego.Go(ctx, func() {
		r.pump(cs, w)
	})

	if err := w.Send(&entity.WorkerCommand{
		Type:           entity.WorkerCommandTurn,
		ConversationID: conversationID,
		Prompt:         prompt,
	}); err != nil {
		return fmt.Errorf("submit turn for conversation %s: %w", conversationID, err)
	}

	logger.InfoX(ModuleName, "[Router] turn started for conversation %s", conversationID)
	return nil
}

// Attach binds a client connection to a conversation that may already be
// mid-turn. A previously attached different client is displaced with a silent
// disconnect. The newly attached client receives a synthetic resynchronization
// message_start carrying the in-progress block list, unless the same
// physical connection is already the attached one, in which case no synthetic
// replay is sent. Pending permission requests are re-sent so a reloaded
// client can re-render the prompt.
func (r *Router) Attach(conversationID string, conn ClientConn) error {
	r.mu.Lock()
	cs, ok := r.convs[conversationID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, errno.ErrNoActiveWorker)
	}

	cs.mu.Lock()
	prev := cs.client
	if prev != nil && prev.ID() == conn.ID() {
		// Same physical connection: re-attaching must not reset the
		// client's own live view, so no resync and no re-delivery.
		cs.mu.Unlock()
		return nil
	}
	cs.client = conn

	// The resync and pending replays go out before the lock is released:
	// the pump both applies deltas and picks its forwarding target under
	// cs.mu, so nothing can slot in between the snapshot and its delivery.
	// Send is non-blocking per the ClientConn contract, so holding the lock
	// across it is safe.
	if cs.acc.Active() {
		ev := &entity.Event{
			Type:           entity.EventStreamDelta,
			ConversationID: conversationID,
			Timestamp:      time.Now(),
			Delta: &entity.DeltaPayload{
				Kind:   entity.DeltaMessageStart,
				Resync: true,
				Blocks: cs.acc.Snapshot(),
			},
		}
		if err := conn.Send(ev); err != nil {
			logger.Warn("[Router] resync send to %s failed: %v", conn.ID(), err)
		}
	}
	for _, p := range cs.pending {
		if err := conn.Send(p); err != nil {
			logger.Warn("[Router] pending permission re-delivery to %s failed: %v", conn.ID(), err)
			break
		}
	}
	cs.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
		logger.InfoX(ModuleName, "[Router] client %s displaced from conversation %s by %s", prev.ID(), conversationID, conn.ID())
	}

	return nil
}

// Detach unbinds the client identified by conn, if it is still the attached
// one. The worker keeps running and the gateway keeps persisting regardless
// of client presence.
func (r *Router) Detach(conversationID string, conn ClientConn) {
	r.mu.Lock()
	cs, ok := r.convs[conversationID]
	r.mu.Unlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	if cs.client != nil && cs.client.ID() == conn.ID() {
		cs.client = nil
		logger.InfoX(ModuleName, "[Router] client %s detached from conversation %s", conn.ID(), conversationID)
	}
	cs.mu.Unlock()
}

// DetachConn unbinds conn from every conversation it is attached to. Called
// when a socket dies.
func (r *Router) DetachConn(conn ClientConn) {
	r.mu.Lock()
	convs := make([]*conversation, 0, len(r.convs))
	for _, cs := range r.convs {
		convs = append(convs, cs)
	}
	r.mu.Unlock()

	for _, cs := range convs {
		cs.mu.Lock()
		if cs.client != nil && cs.client.ID() == conn.ID() {
			cs.client = nil
		}
		cs.mu.Unlock()
	}
}

// Abort requests cooperative cancellation of the in-flight turn. The
// client-visible streaming state is terminated unconditionally: if no live
// worker can emit the aborted event, the router synthesizes it.
func (r *Router) Abort(conversationID string) error {
	r.mu.Lock()
	cs, ok := r.convs[conversationID]
	var w worker.Worker
	if ok {
		w = cs.worker
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, errno.ErrNoActiveWorker)
	}

	if w != nil && !w.Stale() {
		w.Abort()
		return nil
	}

	// No worker left to answer: close out the streaming state ourselves.
	cs.handleEvent(r.gateway, &entity.Event{
		Type:           entity.EventAborted,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	})
	return nil
}

// PermissionResponse answers a pending permission request and forwards the
// decision to the worker.
func (r *Router) PermissionResponse(conversationID, requestID string, approved, approveAll bool) error {
	r.mu.Lock()
	cs, ok := r.convs[conversationID]
	var w worker.Worker
	if ok {
		w = cs.worker
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, errno.ErrNoActiveWorker)
	}

	cs.mu.Lock()
	kept := cs.pending[:0]
	for _, p := range cs.pending {
		if p.Permission == nil || p.Permission.RequestID != requestID {
			kept = append(kept, p)
		}
	}
	cs.pending = kept
	cs.mu.Unlock()

	if w == nil || w.Stale() {
		return fmt.Errorf("conversation %s: %w", conversationID, errno.ErrNoActiveWorker)
	}
	return w.Send(&entity.WorkerCommand{
		Type:           entity.WorkerCommandPermission,
		ConversationID: conversationID,
		RequestID:      requestID,
		Approved:       approved,
		ApproveAll:     approveAll,
	})
}

// Active reports whether the conversation currently has a live worker.
func (r *Router) Active(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.convs[conversationID]
	return ok && cs.worker != nil && !cs.worker.Stale()
}

// Shutdown stops every live worker.
func (r *Router) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cs := range r.convs {
		if cs.worker != nil && !cs.worker.Stale() {
			cs.worker.Stop()
		}
	}
}

// pump is the single-writer event loop for one conversation. It drains the
// worker's stream until exit, handling each event exactly once, in order.
func (r *Router) pump(cs *conversation, w worker.Worker) {
	for ev := range w.Events() {
		cs.handleEvent(r.gateway, ev)
	}
	r.sem.Release(1)

	r.mu.Lock()
	if cs.worker == w {
		cs.worker = nil
	}
	r.mu.Unlock()

	// An exit without a terminal event is a worker crash: surface it as a
	// terminal error and leave the conversation attachable for a fresh turn.
	// This covers a worker that dies before emitting a single event, so an
	// attached client is never left waiting on a turn that can't complete.
	cs.mu.Lock()
	crashed := !cs.sawTerminal
	cs.mu.Unlock()
	if crashed {
		logger.WarnX(ModuleName, "[Router] worker for conversation %s exited without a terminal event", cs.id)
		cs.handleEvent(r.gateway, &entity.Event{
			Type:           entity.EventError,
			ConversationID: cs.id,
			Timestamp:      time.Now(),
			Error:          &entity.ErrorPayload{Code: "worker_exit", Message: "worker exited unexpectedly"},
		})
	}
}

// handleEvent routes one event: forward verbatim to the attached client,
// update the router-side accumulator, and evaluate for persistence. The
// forward and persist steps are independent; neither blocks the other.
func (cs *conversation) handleEvent(gw *Gateway, ev *entity.Event) {
	cs.mu.Lock()
	switch {
	case ev.Type == entity.EventPermissionRequest:
		cs.pending = append(cs.pending, ev)
	case ev.Terminal():
		cs.pending = nil
		cs.sawTerminal = true
	}

	// Capture the stream-derived block list at message boundaries so the
	// terminal assistant_message (which arrives after message_stop) can be
	// reconciled against it.
	if ev.Type == entity.EventStreamDelta && ev.Delta != nil {
		switch ev.Delta.Kind {
		case entity.DeltaMessageStart:
			cs.streamedTurn = nil
		case entity.DeltaMessageStop:
			cs.streamedTurn = cs.acc.Snapshot()
		}
	}
	streamed := cs.streamedTurn
	if cs.acc.Active() {
		streamed = cs.acc.Snapshot()
	}
	cs.acc.Apply(ev)
	client := cs.client
	cs.mu.Unlock()

	if client != nil {
		if err := client.Send(ev); err != nil {
			logger.Warn("[Router] forward to client %s failed, detaching: %v", client.ID(), err)
			cs.mu.Lock()
			if cs.client != nil && cs.client.ID() == client.ID() {
				cs.client = nil
			}
			cs.mu.Unlock()
			_ = client.Close()
			client = nil
		}
	}

	result := gw.HandleEvent(context.Background(), ev, streamed)
	if result.Warn != nil && client != nil {
		warn := &entity.Event{
			Type:           entity.EventLifecycle,
			ConversationID: ev.ConversationID,
			Timestamp:      time.Now(),
			Lifecycle: &entity.LifecyclePayload{
				Stage:  "persistence_warning",
				Detail: result.Warn.Error(),
			},
		}
		_ = client.Send(warn)
	}

	if ev.Type == entity.EventAssistantMessage || ev.Terminal() {
		cs.mu.Lock()
		cs.streamedTurn = nil
		cs.mu.Unlock()
	}
}
