// Package orchestrator runs tasks end to end.
//
// Runner.Run validates a task, acquires a session from the pool, executes
// the task under a hard deadline and releases the session exactly once.
// The session is released healthy after success or a navigation failure,
// and unhealthy after a timeout, crash or panic.
package orchestrator
