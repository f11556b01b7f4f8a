package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
)

// RunTask handles POST /tasks. Captured bytes are returned base64-encoded
// inside the JSON result, or as the raw body with ?raw=1.
func (h *Handlers) RunTask(c *gin.Context) {
	rid := requestID(c)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, string(task.KindValidation), "request body too large")
			return
		}
		writeError(c, http.StatusBadRequest, string(task.KindValidation), "unreadable request body")
		return
	}

	var req task.Request
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(c, http.StatusBadRequest, string(task.KindValidation), "malformed JSON body")
		return
	}

	t, err := h.presets.Build(req, rid)
	if err != nil {
		var ve *task.ValidationError
		if errors.As(err, &ve) {
			h.writeFailure(c, task.Failed(t, "", task.KindValidation, ve.Error(), 0))
			return
		}
		h.logger.Error("Failed to build task", zap.String("request_id", rid), zap.Error(err))
		writeError(c, http.StatusInternalServerError, KindInternal, "failed to build task")
		return
	}

	res := h.runner.Run(c.Request.Context(), t)
	if !res.OK() {
		h.writeFailure(c, res)
		return
	}

	if c.Query("raw") == "1" && res.Output != nil && res.Output.Data != nil {
		c.Header("X-Task-ID", res.TaskID)
		c.Data(http.StatusOK, res.Output.ContentType, res.Output.Data)
		return
	}
	c.JSON(http.StatusOK, res)
}
