// Package ws streams live session pool statistics over WebSocket.
//
// Message Types (Server → Client):
//   - system: subscription confirmed
//   - stats: pool counters and per-session details, once per interval
//   - pong: reply to a client ping
//
// Message Types (Client → Server):
//   - ping: keep-alive ping
//
// Example Usage:
//
//	handler := ws.NewHandler(pool, time.Second, logger)
//	router.GET("/pool/stream", handler.HandleConnection)
package ws
