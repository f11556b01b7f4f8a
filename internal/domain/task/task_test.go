package task

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tk := New("req_1")

	_, err := uuid.Parse(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "req_1", tk.RequestID)
	assert.Equal(t, FormatHTML, tk.Capture.Format)
	assert.NotEqual(t, tk.ID, New("req_1").ID)
}

func TestSteps(t *testing.T) {
	click := Action{Type: ActionClick, Selector: "#go"}

	tests := []struct {
		name  string
		task  Task
		types []ActionType
	}{
		{"url target", Task{URL: "https://example.com", Actions: []Action{click}}, []ActionType{ActionNavigate, ActionClick}},
		{"html target", Task{HTML: "<p>hi</p>"}, []ActionType{ActionSetContent}},
		{"actions only", Task{Actions: []Action{{Type: ActionNavigate, URL: "https://example.com"}, click}}, []ActionType{ActionNavigate, ActionClick}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := tt.task.Steps()
			got := make([]ActionType, len(steps))
			for i, s := range steps {
				got[i] = s.Type
			}
			assert.Equal(t, tt.types, got)
		})
	}
}

func TestStepsDoesNotAliasActions(t *testing.T) {
	actions := make([]Action, 1, 4)
	actions[0] = Action{Type: ActionClick, Selector: "a"}
	tk := Task{URL: "https://example.com", Actions: actions}

	steps := tk.Steps()
	steps[1].Selector = "b"
	assert.Equal(t, "a", tk.Actions[0].Selector)
}

func TestActionTimeout(t *testing.T) {
	assert.Equal(t, float64(500), Action{}.Timeout(500))
	assert.Equal(t, float64(1200), Action{TimeoutMS: 1200}.Timeout(500))
}

func TestResultConstructors(t *testing.T) {
	tk := New("req_1")

	ok := Succeeded(tk, "sess_1", Output{Format: FormatText, Data: []byte("hi")}, 0)
	assert.True(t, ok.OK())
	assert.Empty(t, ok.Kind())
	assert.Equal(t, tk.ID, ok.TaskID)
	assert.Equal(t, "sess_1", ok.SessionID)

	bad := Failed(tk, "sess_1", KindNavigation, "net::ERR_NAME_NOT_RESOLVED", 0)
	assert.False(t, bad.OK())
	assert.Equal(t, KindNavigation, bad.Kind())
	assert.Nil(t, bad.Output)
}

func TestKindRetryable(t *testing.T) {
	assert.True(t, KindPoolTimeout.Retryable())
	assert.True(t, KindCrash.Retryable())
	assert.False(t, KindValidation.Retryable())
	assert.False(t, KindNavigation.Retryable())
	assert.False(t, KindTimeout.Retryable())
}
