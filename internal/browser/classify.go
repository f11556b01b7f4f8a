package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
)

// ErrCrashed marks failures of the browser itself rather than the page
var ErrCrashed = errors.New("browser crashed")

var crashMarkers = []string{
	"target closed",
	"target page, context or browser has been closed",
	"browser has been closed",
	"browser has disconnected",
	"connection closed",
	"page crashed",
	"websocket closed",
}

// Classify maps an error from a page operation to a failure kind.
// Deadlines and playwright timeouts are ActionTimeout, a dead target or
// browser is RuntimeCrash and anything else is NavigationError.
func Classify(err error) task.Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCrashed), errors.Is(err, playwright.ErrTargetClosed):
		return task.KindCrash
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, playwright.ErrTimeout):
		return task.KindTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range crashMarkers {
		if strings.Contains(msg, marker) {
			return task.KindCrash
		}
	}
	if strings.Contains(msg, "timeout") && strings.Contains(msg, "exceeded") {
		return task.KindTimeout
	}
	return task.KindNavigation
}

// Healthy reports whether a session can be reused after a failure of kind k.
// A navigation failure only loses the page; the context stays usable.
func Healthy(k task.Kind) bool {
	return k == "" || k == task.KindNavigation || k == task.KindValidation
}
