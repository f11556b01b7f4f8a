// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Components receive a named child logger so every line carries its origin:
//
//	logger := logging.New(cfg.Logging)
//	poolLog := logger.Component("pool")
//	poolLog.Info("session retired", zap.String("session_id", sid))
package logging
