package browser

import (
	"context"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
)

// Runtime launches sessions, runs tasks on them and closes them.
//
// Execute never panics and never returns a Go error: every failure is a
// task.Result with a Kind. Close is idempotent.
type Runtime interface {
	Launch(ctx context.Context) (*Session, error)
	Execute(ctx context.Context, s *Session, t task.Task) task.Result
	Close(s *Session) error
}
