package v1

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
	"github.com/peregrine-desk/peregrine/internal/pkg/core"
	"github.com/peregrine-desk/peregrine/pkg/errorx"
)

// ConversationHandler handles conversation and transcript REST API endpoints.
type ConversationHandler struct {
	mod *stream.Module
}

// NewConversationHandler creates a new ConversationHandler.
func NewConversationHandler(mod *stream.Module) *ConversationHandler {
	return &ConversationHandler{mod: mod}
}

// List handles GET /v1/conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	convs, err := h.mod.Conversations.List(c.Request.Context())
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrConversationList, "list conversations"), nil)
		return
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp = append(resp, toConversationResponse(conv, h.mod.Router.Active(conv.ID)))
	}
	core.WriteResponse(c, nil, gin.H{"data": resp})
}

// Get handles GET /v1/conversations/:id.
func (h *ConversationHandler) Get(c *gin.Context) {
	id := c.Param("id")
	conv, err := h.mod.Conversations.Get(c.Request.Context(), id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrConversationNotFound, "conversation %q not found", id), nil)
		return
	}
	core.WriteResponse(c, nil, toConversationResponse(conv, h.mod.Router.Active(id)))
}

// Messages handles GET /v1/conversations/:id/messages. Rows come back in
// transcript order, which is the worker's emission order.
func (h *ConversationHandler) Messages(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.mod.Conversations.Get(c.Request.Context(), id); err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrConversationNotFound, "conversation %q not found", id), nil)
		return
	}

	msgs, err := h.mod.Transcripts.ListByConversation(c.Request.Context(), id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrTranscriptList, "list messages for conversation %q", id), nil)
		return
	}

	resp := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		resp = append(resp, toMessageResponse(msg))
	}
	core.WriteResponse(c, nil, gin.H{"data": resp})
}

// Delete handles DELETE /v1/conversations/:id. Both the registry row and the
// transcript log are removed.
func (h *ConversationHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.mod.Conversations.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, errno.ErrConversationNotFound) {
			core.WriteResponse(c, errorx.WrapC(err, ErrConversationNotFound, "conversation %q not found", id), nil)
			return
		}
		core.WriteResponse(c, errorx.WrapC(err, ErrConversationDelete, "delete conversation %q", id), nil)
		return
	}
	if err := h.mod.Transcripts.DeleteConversation(c.Request.Context(), id); err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrConversationDelete, "delete transcript for conversation %q", id), nil)
		return
	}
	core.WriteResponse(c, nil, gin.H{"id": id, "deleted": true})
}

// Abort handles POST /v1/conversations/:id/abort.
func (h *ConversationHandler) Abort(c *gin.Context) {
	id := c.Param("id")
	if err := h.mod.Router.Abort(id); err != nil {
		if errors.Is(err, errno.ErrNoActiveWorker) {
			core.WriteResponse(c, errorx.WrapC(err, ErrNoActiveWorker, "no active worker for conversation %q", id), nil)
			return
		}
		core.WriteResponse(c, errorx.WrapC(err, ErrAbort, "abort conversation %q", id), nil)
		return
	}
	core.WriteResponse(c, nil, gin.H{"id": id, "aborted": true})
}
