// Package ws carries the persistent bidirectional client connection: Event
// envelopes outward, the small query/attach/abort/permission_response
// command set inward.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/service"
	"github.com/peregrine-desk/peregrine/pkg/logger"
	"github.com/peregrine-desk/peregrine/pkg/utils/json"
)

// Handler upgrades client sockets and drives their command loop.
type Handler struct {
	router   *service.Router
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler.
func NewHandler(router *service.Router) *Handler {
	return &Handler{
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 32 * 1024,
			// The daemon is a local sidecar; the browser shell connects from
			// its own origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle is the GET /v1/ws endpoint.
func (h *Handler) Handle(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("[WS] upgrade failed: %v", err)
		return
	}

	conn := newConn(ws)
	logger.Info("[WS] client %s connected", conn.ID())
	defer func() {
		h.router.DetachConn(conn)
		conn.Close()
		logger.Info("[WS] client %s disconnected", conn.ID())
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("[WS] read from %s failed: %v", conn.ID(), err)
			}
			return
		}

		var cmd entity.ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			logger.Warn("[WS] undecodable command from %s dropped: %v", conn.ID(), err)
			continue
		}
		h.dispatch(c, conn, &cmd)
	}
}

func (h *Handler) dispatch(c *gin.Context, conn *conn, cmd *entity.ClientCommand) {
	switch cmd.Type {
	case entity.ClientCommandQuery:
		conversationID := cmd.ConversationID
		if conversationID == "" {
			conversationID = uuid.New().String()
		}
		if err := h.router.Start(c.Request.Context(), conversationID, cmd.Prompt); err != nil {
			h.sendError(conn, conversationID, "start_failed", err)
			return
		}
		if err := h.router.Attach(conversationID, conn); err != nil {
			h.sendError(conn, conversationID, "attach_failed", err)
			return
		}
		// Tell the client which conversation its turn landed in (ids may be
		// daemon-generated).
		_ = conn.Send(&entity.Event{
			Type:           entity.EventLifecycle,
			ConversationID: conversationID,
			Timestamp:      time.Now(),
			Lifecycle:      &entity.LifecyclePayload{Stage: "turn_accepted"},
		})

	case entity.ClientCommandAttach:
		if err := h.router.Attach(cmd.ConversationID, conn); err != nil {
			h.sendError(conn, cmd.ConversationID, "no_active_worker", err)
		}

	case entity.ClientCommandAbort:
		if err := h.router.Abort(cmd.ConversationID); err != nil {
			h.sendError(conn, cmd.ConversationID, "abort_failed", err)
		}

	case entity.ClientCommandPermissionResponse:
		if err := h.router.PermissionResponse(cmd.ConversationID, cmd.RequestID, cmd.Approved, cmd.ApproveAll); err != nil {
			h.sendError(conn, cmd.ConversationID, "permission_response_failed", err)
		}

	default:
		logger.Warn("[WS] unknown command %q from %s dropped", cmd.Type, conn.ID())
	}
}

func (h *Handler) sendError(conn *conn, conversationID, code string, err error) {
	_ = conn.Send(&entity.Event{
		Type:           entity.EventError,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
		Error:          &entity.ErrorPayload{Code: code, Message: err.Error()},
	})
}
