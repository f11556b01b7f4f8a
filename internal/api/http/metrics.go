package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/framerender/internal/pool"
)

// MetricsSnapshot is the JSON view of the service's counters
type MetricsSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Summary   MetricsSummary `json:"summary"`
	Pool      pool.Stats     `json:"pool"`
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	ErrorRate        float64 `json:"error_rate"`
	TasksOK          int64   `json:"tasks_ok"`
	TasksFailed      int64   `json:"tasks_failed"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// MetricsJSON handles GET /metrics/json
func (h *Handlers) MetricsJSON(c *gin.Context) {
	out := MetricsSnapshot{
		Timestamp: time.Now(),
		Pool:      h.pool.Stats(),
	}
	if h.metrics != nil {
		snap := h.metrics.Snapshot()
		out.Summary = MetricsSummary{
			TotalRequests:    snap.TotalRequests,
			AverageLatencyMs: snap.AvgLatencyMS,
			TasksOK:          snap.TasksOK,
			TasksFailed:      snap.TasksFailed,
			UptimeSeconds:    h.metrics.UptimeSeconds(),
		}
		if snap.TotalRequests > 0 {
			out.Summary.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
		}
	}
	c.JSON(http.StatusOK, out)
}
