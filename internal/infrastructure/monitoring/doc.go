/*
Package monitoring provides Prometheus metrics for the render service.

# Overview

Metrics live on a private registry so tests and multiple servers in one
process never collide on global registration. The registry also carries the
Go runtime and process collectors.

# Metrics

- HTTP requests (count, latency, response size) by route template
- Browser tasks by outcome kind and capture format
- Session pool gauges (idle, busy, creating, waiters), launches, retirements
- Acquire wait time by outcome
- Outbound fetches by purpose and outcome

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordTask("", "screenshot", time.Second)
*/
package monitoring
