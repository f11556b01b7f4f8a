package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want task.Kind
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, task.KindTimeout},
		{"wrapped cancel", fmt.Errorf("step 2: %w", context.Canceled), task.KindTimeout},
		{"playwright timeout", fmt.Errorf("click: %w", playwright.ErrTimeout), task.KindTimeout},
		{"timeout text", errors.New("Timeout 5000ms exceeded."), task.KindTimeout},
		{"target closed sentinel", fmt.Errorf("goto: %w", playwright.ErrTargetClosed), task.KindCrash},
		{"crashed sentinel", ErrCrashed, task.KindCrash},
		{"browser closed text", errors.New("Target page, context or browser has been closed"), task.KindCrash},
		{"page crashed", errors.New("Page crashed"), task.KindCrash},
		{"dns", errors.New("net::ERR_NAME_NOT_RESOLVED at https://nope.invalid"), task.KindNavigation},
		{"strict mode", errors.New("strict mode violation: locator resolved to 2 elements"), task.KindNavigation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestHealthy(t *testing.T) {
	assert.True(t, Healthy(""))
	assert.True(t, Healthy(task.KindNavigation))
	assert.False(t, Healthy(task.KindTimeout))
	assert.False(t, Healthy(task.KindCrash))
}

func TestSummarize(t *testing.T) {
	err := errors.New("page.goto: net::ERR_CONNECTION_REFUSED\nCall log:\n  - navigating to ...")
	assert.Equal(t, "page.goto: net::ERR_CONNECTION_REFUSED", summarize(err))

	long := errors.New(strings.Repeat("x", maxFailureMessage+50))
	assert.Len(t, summarize(long), maxFailureMessage+len("..."))
}
