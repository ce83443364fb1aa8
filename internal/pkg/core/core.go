// Package core holds the shared HTTP response writer used by all gin
// handlers.
package core

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/peregrine-desk/peregrine/pkg/errorx"
	"github.com/peregrine-desk/peregrine/pkg/logger"
)

// ErrResponse is the JSON body returned for failed requests.
type ErrResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

// WriteResponse writes either the error (rendered via its registered Coder)
// or the success payload. The internal error detail is logged, never exposed.
func WriteResponse(c *gin.Context, err error, data interface{}) {
	if err != nil {
		coder := errorx.ParseCoder(err)
		logger.Warn("[API] %s %s failed (code=%d): %v", c.Request.Method, c.Request.URL.Path, coder.Code(), err)
		c.JSON(coder.HTTPStatus(), ErrResponse{
			Code:      coder.Code(),
			Message:   coder.String(),
			Reference: coder.Reference(),
		})
		return
	}

	c.JSON(http.StatusOK, data)
}
