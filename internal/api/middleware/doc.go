// Package middleware holds the gin middleware shared by every route:
// CORS and per-client rate limiting.
package middleware
