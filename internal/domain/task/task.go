package task

import (
	"time"

	"github.com/google/uuid"
)

// ActionType names a page action
type ActionType string

const (
	ActionNavigate         ActionType = "navigate"
	ActionSetContent       ActionType = "set_content"
	ActionWaitForSelector  ActionType = "wait_for_selector"
	ActionWaitForLoadState ActionType = "wait_for_load_state"
	ActionWait             ActionType = "wait"
	ActionClick            ActionType = "click"
	ActionFill             ActionType = "fill"
	ActionPress            ActionType = "press"
	ActionEvaluate         ActionType = "evaluate"
	ActionScroll           ActionType = "scroll"
)

// Format names what a task captures once its actions are done
type Format string

const (
	FormatHTML       Format = "html"
	FormatText       Format = "text"
	FormatScreenshot Format = "screenshot"
	FormatPDF        Format = "pdf"
	FormatNone       Format = "none"
)

// Task is one unit of browser work. It lives for the duration of a request.
type Task struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id,omitempty"`
	URL       string        `json:"url,omitempty"`
	HTML      string        `json:"html,omitempty"`
	Actions   []Action      `json:"actions,omitempty"`
	Capture   Capture       `json:"capture"`
	Viewport  *Viewport     `json:"viewport,omitempty"`
	Timeout   time.Duration `json:"-"`
}

// Action is a single step applied to the page, in order
type Action struct {
	Type       ActionType `json:"type" yaml:"type" toml:"type"`
	URL        string     `json:"url,omitempty" yaml:"url" toml:"url"`
	HTML       string     `json:"html,omitempty" yaml:"html" toml:"html"`
	Selector   string     `json:"selector,omitempty" yaml:"selector" toml:"selector"`
	Value      string     `json:"value,omitempty" yaml:"value" toml:"value"`
	Key        string     `json:"key,omitempty" yaml:"key" toml:"key"`
	Expression string     `json:"expression,omitempty" yaml:"expression" toml:"expression"`
	// State is a load state (load, domcontentloaded, networkidle) or a
	// selector state (attached, detached, visible, hidden) depending on Type.
	State string `json:"state,omitempty" yaml:"state" toml:"state"`
	// DurationMS is the sleep for wait and the pixel delta for scroll.
	DurationMS int `json:"duration_ms,omitempty" yaml:"duration_ms" toml:"duration_ms"`
	TimeoutMS  int `json:"timeout_ms,omitempty" yaml:"timeout_ms" toml:"timeout_ms"`
}

// Capture describes the output produced at the end of a task
type Capture struct {
	Format    Format       `json:"format" yaml:"format" toml:"format"`
	Selector  string       `json:"selector,omitempty" yaml:"selector" toml:"selector"`
	FullPage  bool         `json:"full_page,omitempty" yaml:"full_page" toml:"full_page"`
	ImageType string       `json:"image_type,omitempty" yaml:"image_type" toml:"image_type"`
	Quality   int          `json:"quality,omitempty" yaml:"quality" toml:"quality"`
	Extract   []Extraction `json:"extract,omitempty" yaml:"extract" toml:"extract"`
}

// Extraction pulls named values out of the final HTML with CSS or XPath
type Extraction struct {
	Name  string `json:"name" yaml:"name" toml:"name"`
	CSS   string `json:"css,omitempty" yaml:"css" toml:"css"`
	XPath string `json:"xpath,omitempty" yaml:"xpath" toml:"xpath"`
	Attr  string `json:"attr,omitempty" yaml:"attr" toml:"attr"`
}

// Viewport is the page size in CSS pixels
type Viewport struct {
	Width  int `json:"width" yaml:"width" toml:"width"`
	Height int `json:"height" yaml:"height" toml:"height"`
}

// New creates a task with a fresh ID
func New(requestID string) Task {
	return Task{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Capture:   Capture{Format: FormatHTML},
	}
}

// Steps returns the full action list, with the target turned into the
// leading navigate or set_content step.
func (t Task) Steps() []Action {
	steps := make([]Action, 0, len(t.Actions)+1)
	switch {
	case t.URL != "":
		steps = append(steps, Action{Type: ActionNavigate, URL: t.URL})
	case t.HTML != "":
		steps = append(steps, Action{Type: ActionSetContent, HTML: t.HTML})
	}
	return append(steps, t.Actions...)
}

// Timeout returns the action timeout in milliseconds, or def when unset
func (a Action) Timeout(def float64) float64 {
	if a.TimeoutMS > 0 {
		return float64(a.TimeoutMS)
	}
	return def
}
