package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/browser"
	"github.com/GriffinCanCode/framerender/internal/domain/render"
	"github.com/GriffinCanCode/framerender/internal/domain/task"
	"github.com/GriffinCanCode/framerender/internal/fetch"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/framerender/internal/pool"
)

// Version is reported by the root endpoint
const Version = "1.0.0"

// TaskRunner runs browser tasks
type TaskRunner interface {
	Run(ctx context.Context, t task.Task) task.Result
}

// CardRenderer renders product cards
type CardRenderer interface {
	Render(ctx context.Context, c render.Card, requestID string) task.Result
}

// FeedBuilder produces the rewritten merchant feed
type FeedBuilder interface {
	Build(ctx context.Context, baseURL, fv string) ([]byte, error)
}

// Prober inspects upstream URLs
type Prober interface {
	Probe(ctx context.Context, rawURL string) fetch.ProbeResult
}

// PoolView exposes pool state
type PoolView interface {
	Stats() pool.Stats
	Sessions() []browser.Info
}

// Deps are the collaborators of the HTTP handlers
type Deps struct {
	Runner        TaskRunner
	Presets       *task.Presets
	Renderer      CardRenderer
	Feed          FeedBuilder
	Prober        Prober
	Pool          PoolView
	Breakers      []*resilience.Breaker
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
	BaseURL       string
	FallbackBlank bool
	RetryAfter    time.Duration
	MaxBodyBytes  int64
}

// Handlers contains all HTTP handlers
type Handlers struct {
	runner        TaskRunner
	presets       *task.Presets
	renderer      CardRenderer
	feed          FeedBuilder
	prober        Prober
	pool          PoolView
	breakers      []*resilience.Breaker
	metrics       *monitoring.Metrics
	logger        *zap.Logger
	baseURL       string
	fallbackBlank bool
	retryAfter    int
	maxBody       int64
}

// NewHandlers creates a new handler set
func NewHandlers(d Deps) *Handlers {
	if d.Presets == nil {
		d.Presets = task.NewPresets(nil)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	retryAfter := int(d.RetryAfter.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = task.MaxHTMLSize + 1024*1024
	}

	return &Handlers{
		runner:        d.Runner,
		presets:       d.Presets,
		renderer:      d.Renderer,
		feed:          d.Feed,
		prober:        d.Prober,
		pool:          d.Pool,
		breakers:      d.Breakers,
		metrics:       d.Metrics,
		logger:        d.Logger,
		baseURL:       d.BaseURL,
		fallbackBlank: d.FallbackBlank,
		retryAfter:    retryAfter,
		maxBody:       d.MaxBodyBytes,
	}
}

// Register mounts the handlers on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.POST("/tasks", h.RunTask)
	r.GET("/render.png", h.RenderCard)
	r.GET("/feed.xml", h.Feed)
	r.GET("/probe", h.Probe)
	r.GET("/pool/stats", h.PoolStats)
	r.GET("/metrics/json", h.MetricsJSON)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "framerender",
		"version": Version,
	})
}

// Health reports pool and circuit breaker state. The service is degraded
// while any breaker is not closed.
func (h *Handlers) Health(c *gin.Context) {
	status := "healthy"
	breakers := make(gin.H, len(h.breakers))
	for _, b := range h.breakers {
		state := b.State()
		if state != resilience.StateClosed {
			status = "degraded"
		}
		breakers[b.Name()] = state.String()
	}

	body := gin.H{
		"status":   status,
		"pool":     h.pool.Stats(),
		"breakers": breakers,
		"presets":  h.presets.Names(),
	}
	if h.metrics != nil {
		body["uptime_seconds"] = h.metrics.UptimeSeconds()
		body["requests"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// PoolStats returns pool counters and per-session details
func (h *Handlers) PoolStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":    h.pool.Stats(),
		"sessions": h.pool.Sessions(),
	})
}
