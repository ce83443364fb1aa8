package v1

import (
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream"
	"github.com/peregrine-desk/peregrine/internal/pkg/core"
	"github.com/peregrine-desk/peregrine/pkg/errorx"
	"github.com/peregrine-desk/peregrine/pkg/logger"
)

const tailHeartbeatInterval = 15 * time.Second

// TailHandler streams newly persisted transcript rows over SSE. This is a
// read-only follower of the durable log: it sees messages after the gateway
// persisted them, never the raw worker stream.
type TailHandler struct {
	mod *stream.Module
}

// NewTailHandler creates a new TailHandler.
func NewTailHandler(mod *stream.Module) *TailHandler {
	return &TailHandler{mod: mod}
}

// Tail handles GET /v1/conversations/:id/tail.
func (h *TailHandler) Tail(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.mod.Conversations.Get(c.Request.Context(), id); err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrConversationNotFound, "conversation %q not found", id), nil)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	msgs, cancel := h.mod.Gateway.SubscribeTail(id)
	defer cancel()

	w := c.Writer
	ticker := time.NewTicker(tailHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev := sse.Event{Event: "message", Data: toMessageResponse(msg)}
			if err := sse.Encode(w, ev); err != nil {
				logger.Warn("[Tail] encode message for conversation %s: %v", id, err)
				return
			}
			w.Flush()
		case <-ticker.C:
			if err := sse.Encode(w, sse.Event{Event: "heartbeat", Data: "ping"}); err != nil {
				return
			}
			w.Flush()
		}
	}
}
