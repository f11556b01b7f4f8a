// Package main is the entry point for the framerender server.
//
// framerender keeps a bounded pool of headless Chromium sessions and runs
// browser tasks on them over HTTP. On top of the generic task API it
// renders product cards as PNG and rewrites a merchant feed to point at
// those cards.
//
// Architecture:
//
//	HTTP (gin) → Runner → Session Pool → Playwright → Chromium
//	           → Renderer ↗
//	           → Feed proxy → upstream feed, product images
//
// Configuration:
//   - Environment variables (12-factor), see internal/infrastructure/config
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8080
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
