// Package task defines the unit of browser work and its outcome.
//
// A Task names a target (URL or inline HTML), an ordered list of page
// actions and a capture spec. A Result carries either the captured Output
// or a Failure whose Kind decides the HTTP status and whether the session
// that ran it can be reused.
//
// Validator checks a task before any browser session is acquired and fills
// in defaults. Presets let a request start from a named partial task loaded
// from a YAML, TOML or JSON file.
package task
