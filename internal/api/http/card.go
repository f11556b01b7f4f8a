package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/domain/feed"
	"github.com/GriffinCanCode/framerender/internal/domain/render"
	"github.com/GriffinCanCode/framerender/internal/domain/task"
	"github.com/GriffinCanCode/framerender/internal/fetch"
)

const noStore = "no-store, no-cache, must-revalidate, max-age=0"

// RenderCard handles GET /render.png
func (h *Handlers) RenderCard(c *gin.Context) {
	rid := requestID(c)
	card := render.CardFromQuery(c.Request.URL.Query())

	res := h.renderer.Render(c.Request.Context(), card, rid)
	c.Header("Cache-Control", noStore)
	if res.OK() {
		c.Data(http.StatusOK, "image/png", res.Output.Data)
		return
	}

	h.logger.Warn("Card render failed",
		zap.String("request_id", rid),
		zap.String("kind", string(res.Kind())),
		zap.String("error", res.Failure.Message))
	if !h.fallbackBlank {
		h.writeFailure(c, res)
		return
	}
	c.Header("X-Render-Error", string(res.Kind()))
	c.Data(http.StatusOK, "image/png", fetch.TransparentPNG)
}

// Feed handles GET /feed.xml. The v query parameter is a consumer-chosen
// version folded into every image link.
func (h *Handlers) Feed(c *gin.Context) {
	base := BaseURL(c, h.baseURL)
	fv := strings.TrimSpace(c.Query("v"))

	out, err := h.feed.Build(c.Request.Context(), base, fv)
	if err != nil {
		h.logger.Error("Feed build failed", zap.String("request_id", requestID(c)), zap.Error(err))
		switch {
		case errors.Is(err, feed.ErrUpstream):
			writeError(c, http.StatusBadGateway, KindUpstream, "upstream feed unavailable")
		case errors.Is(err, feed.ErrMalformed):
			writeError(c, http.StatusBadGateway, KindUpstream, "upstream feed is not valid XML")
		default:
			writeError(c, http.StatusInternalServerError, KindInternal, "feed rewrite failed")
		}
		return
	}

	c.Header("Cache-Control", noStore)
	c.Data(http.StatusOK, "application/xml; charset=utf-8", out)
}

// Probe handles GET /probe?url=
func (h *Handlers) Probe(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		writeError(c, http.StatusBadRequest, string(task.KindValidation), "url is required")
		return
	}
	if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(c, http.StatusBadRequest, string(task.KindValidation), "url must be an absolute http or https URL")
		return
	}

	c.JSON(http.StatusOK, h.prober.Probe(c.Request.Context(), raw))
}
