// Package config provides 12-factor configuration for the render service.
//
// Configuration is loaded from environment variables with defaults.
// CLI flags in cmd/server override the listen port and log mode.
//
// Configuration Sections:
//   - Server: listen address, public base URL, shutdown grace period
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting
//   - Browser: Chromium launch flags, viewport, navigation allow-list
//   - Pool: session pool ceiling, pre-warm size, recycling thresholds
//   - Task: per-task timeout bounds, action limit, presets file
//   - Fetch: outbound HTTP for feed, images and probes
//   - Render: product-card viewport, templates, static assets
//   - Feed: upstream merchant feed
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Addr())
package config
