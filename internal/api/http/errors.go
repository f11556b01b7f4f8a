package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
)

// Error kinds for failures outside a browser task
const (
	KindUpstream = "UpstreamError"
	KindInternal = "InternalError"
)

// ErrorDetail is the client-visible part of a failure
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorBody is the JSON body of every error response
type ErrorBody struct {
	Error     ErrorDetail `json:"error"`
	TaskID    string      `json:"task_id,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// StatusFor maps a task failure kind to its HTTP status
func StatusFor(k task.Kind) int {
	switch k {
	case task.KindValidation:
		return http.StatusBadRequest
	case task.KindPoolTimeout:
		return http.StatusServiceUnavailable
	case task.KindNavigation, task.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides runtime internals from clients
func publicMessage(f *task.Failure) string {
	if f.Kind == task.KindCrash {
		return "browser runtime failure"
	}
	return f.Message
}

func (h *Handlers) writeFailure(c *gin.Context, res task.Result) {
	status := StatusFor(res.Failure.Kind)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(h.retryAfter))
	}
	c.JSON(status, ErrorBody{
		Error:     ErrorDetail{Kind: string(res.Failure.Kind), Message: publicMessage(res.Failure)},
		TaskID:    res.TaskID,
		RequestID: res.RequestID,
	})
}

func writeError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Error:     ErrorDetail{Kind: kind, Message: message},
		RequestID: requestID(c),
	})
}
