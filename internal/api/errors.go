package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/sealgauge/internal/ir"
)

type errorBody struct {
	Code        ir.ErrorCode `json:"code"`
	Message     string       `json:"message"`
	Recoverable bool         `json:"recoverable"`
	RecordID    ir.RecordID  `json:"record_id,omitempty"`
	RequestID   ir.RequestID `json:"request_id,omitempty"`
}

// statusOf maps a domain error code to its HTTP status.
func statusOf(code ir.ErrorCode) int {
	switch code {
	case ir.ErrCodeRecordNotFound, ir.ErrCodeUnknownRequest:
		return http.StatusNotFound
	case ir.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ir.ErrCodeUnauthorized:
		return http.StatusForbidden
	case ir.ErrCodeVerificationFailed:
		return http.StatusUnprocessableEntity
	case ir.ErrCodeDuplicateOutstanding,
		ir.ErrCodeAlreadyRevealed,
		ir.ErrCodeAlreadyConsumed,
		ir.ErrCodeScoreAlreadyRevealed,
		ir.ErrCodeScoreAlreadySet,
		ir.ErrCodeRecordNotRevealed,
		ir.ErrCodeScoreNotComputed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as JSON. Errors without a domain code are internal and
// their text is not echoed to the client.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)

	var de *ir.Error
	if !errors.As(err, &de) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Code:    "INTERNAL",
			Message: "internal error",
		})
		return
	}
	c.AbortWithStatusJSON(statusOf(de.Code), errorBody{
		Code:        de.Code,
		Message:     de.Error(),
		Recoverable: ir.Recoverable(de.Code),
		RecordID:    de.RecordID,
		RequestID:   de.RequestID,
	})
}

func badRequest(c *gin.Context, message string, cause error) {
	fail(c, ir.NewInvalidArgument(message, cause))
}
