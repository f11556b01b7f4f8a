package task

import (
	"encoding/json"
	"time"
)

// Kind classifies why a task failed
type Kind string

const (
	KindValidation  Kind = "ValidationError"
	KindPoolTimeout Kind = "PoolTimeoutError"
	KindNavigation  Kind = "NavigationError"
	KindTimeout     Kind = "ActionTimeout"
	KindCrash       Kind = "RuntimeCrash"
)

// Retryable reports whether the client may retry the same task unchanged
func (k Kind) Retryable() bool {
	return k == KindPoolTimeout || k == KindCrash
}

// Failure describes a failed task
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Output is the captured payload of a successful task
type Output struct {
	Format      Format              `json:"format"`
	ContentType string              `json:"content_type,omitempty"`
	Data        []byte              `json:"data,omitempty"`
	URL         string              `json:"url,omitempty"`
	Title       string              `json:"title,omitempty"`
	Value       json.RawMessage     `json:"value,omitempty"`
	Extracted   map[string][]string `json:"extracted,omitempty"`
}

// Result is the outcome of a task. Exactly one of Output and Failure is set.
// Results are passed by value and never modified after they are built.
type Result struct {
	TaskID    string        `json:"task_id"`
	RequestID string        `json:"request_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Output    *Output       `json:"output,omitempty"`
	Failure   *Failure      `json:"error,omitempty"`
	Duration  time.Duration `json:"-"`
}

// OK reports whether the task succeeded
func (r Result) OK() bool {
	return r.Failure == nil
}

// Kind returns the failure kind, or empty on success
func (r Result) Kind() Kind {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Kind
}

// Succeeded builds a success result
func Succeeded(t Task, sessionID string, out Output, elapsed time.Duration) Result {
	return Result{
		TaskID:    t.ID,
		RequestID: t.RequestID,
		SessionID: sessionID,
		Output:    &out,
		Duration:  elapsed,
	}
}

// Failed builds a failure result
func Failed(t Task, sessionID string, kind Kind, message string, elapsed time.Duration) Result {
	return Result{
		TaskID:    t.ID,
		RequestID: t.RequestID,
		SessionID: sessionID,
		Failure:   &Failure{Kind: kind, Message: message},
		Duration:  elapsed,
	}
}
