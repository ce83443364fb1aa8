package v1

import (
	"net/http"

	"github.com/peregrine-desk/peregrine/pkg/errorx"
)

// Peregrined handler error codes.
// Code format: 2XXYYZ
//   - 2:  module prefix (peregrined handler)
//   - XX: resource group (00=common, 01=conversation, 02=transcript, 03=stream)
//   - YY: sequential error number
//   - Z:  reserved (0)

const (
	// Common request errors (200xxx).
	ErrBind       = 200001
	ErrValidation = 200002

	// Conversation errors (2001xx).
	ErrConversationNotFound = 200101
	ErrConversationList     = 200102
	ErrConversationDelete   = 200103

	// Transcript errors (2002xx).
	ErrTranscriptList = 200201
	ErrMessageGet     = 200202

	// Stream errors (2003xx).
	ErrNoActiveWorker = 200301
	ErrAbort          = 200302
)

func init() {
	// Common.
	errorx.MustRegister(newCoder(ErrBind, http.StatusBadRequest, "Request body binding failed"))
	errorx.MustRegister(newCoder(ErrValidation, http.StatusBadRequest, "Request validation failed"))

	// Conversation.
	errorx.MustRegister(newCoder(ErrConversationNotFound, http.StatusNotFound, "Conversation not found"))
	errorx.MustRegister(newCoder(ErrConversationList, http.StatusInternalServerError, "Failed to list conversations"))
	errorx.MustRegister(newCoder(ErrConversationDelete, http.StatusInternalServerError, "Failed to delete conversation"))

	// Transcript.
	errorx.MustRegister(newCoder(ErrTranscriptList, http.StatusInternalServerError, "Failed to list transcript messages"))
	errorx.MustRegister(newCoder(ErrMessageGet, http.StatusNotFound, "Message not found"))

	// Stream.
	errorx.MustRegister(newCoder(ErrNoActiveWorker, http.StatusConflict, "No active worker for conversation"))
	errorx.MustRegister(newCoder(ErrAbort, http.StatusInternalServerError, "Failed to abort conversation"))
}

type coder struct {
	code int
	http int
	msg  string
}

func newCoder(code, httpStatus int, msg string) *coder {
	return &coder{code: code, http: httpStatus, msg: msg}
}

func (c *coder) Code() int         { return c.code }
func (c *coder) HTTPStatus() int   { return c.http }
func (c *coder) String() string    { return c.msg }
func (c *coder) Reference() string { return "" }
