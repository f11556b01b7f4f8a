// Package fetch is the outbound HTTP client for the merchant feed, product
// images and URL probes.
//
// Requests go through resty on a retryablehttp transport, wait on a token
// bucket limiter and are guarded by a circuit breaker so a dead upstream
// fails fast. Bodies are read through a size cap.
//
// DataURI inlines an image for rendering and falls back to a transparent
// pixel on any failure. Probe reports status, type, size and a decoded text
// preview for diagnostics.
package fetch
