package task

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"
	"github.com/bmatcuk/doublestar/v4"
)

// Limits applied during validation
const (
	MaxHTMLSize      = 5 * 1024 * 1024 // default inline document cap
	MaxExpression    = 64 * 1024
	MaxWaitMS        = 60_000
	MaxViewportSide  = 4096
	MaxExtractions   = 32
	DefaultImageType = "png"
)

var (
	loadStates     = map[string]bool{"": true, "load": true, "domcontentloaded": true, "networkidle": true}
	selectorStates = map[string]bool{"": true, "attached": true, "detached": true, "visible": true, "hidden": true}
	formats        = map[Format]bool{FormatHTML: true, FormatText: true, FormatScreenshot: true, FormatPDF: true, FormatNone: true}
)

// ValidationError reports a malformed task. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Limits configures a Validator
type Limits struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxActions     int
	MaxHTMLBytes   int
	AllowedHosts   []string
	Viewport       Viewport
}

// Validator checks tasks and fills in defaults
type Validator struct {
	limits Limits
}

// NewValidator creates a validator. Host patterns are doublestar globs
// matched against the lower-cased host name.
func NewValidator(limits Limits) (*Validator, error) {
	for _, pattern := range limits.AllowedHosts {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid host pattern %q", pattern)
		}
	}
	if limits.MaxActions <= 0 {
		limits.MaxActions = 50
	}
	if limits.MaxHTMLBytes <= 0 {
		limits.MaxHTMLBytes = MaxHTMLSize
	}
	if limits.Viewport.Width <= 0 || limits.Viewport.Height <= 0 {
		limits.Viewport = Viewport{Width: 1280, Height: 720}
	}
	return &Validator{limits: limits}, nil
}

// Validate checks t and normalises it in place: default timeout, viewport,
// capture format and image type are filled in.
func (v *Validator) Validate(t *Task) error {
	if t.URL != "" && t.HTML != "" {
		return invalid("url", "url and html are mutually exclusive")
	}
	if t.URL != "" {
		if err := v.checkURL("url", t.URL); err != nil {
			return err
		}
	}
	if len(t.HTML) > v.limits.MaxHTMLBytes {
		return invalid("html", "exceeds %d bytes", v.limits.MaxHTMLBytes)
	}
	if t.URL == "" && t.HTML == "" && !opensPage(t.Actions) {
		return invalid("url", "url, html or a leading navigate/set_content action is required")
	}

	if len(t.Actions) > v.limits.MaxActions {
		return invalid("actions", "at most %d actions allowed, got %d", v.limits.MaxActions, len(t.Actions))
	}
	for i, a := range t.Actions {
		if err := v.checkAction(fmt.Sprintf("actions[%d]", i), a); err != nil {
			return err
		}
	}

	if err := checkCapture(&t.Capture); err != nil {
		return err
	}

	switch {
	case t.Timeout < 0:
		return invalid("timeout_ms", "must not be negative")
	case t.Timeout == 0:
		t.Timeout = v.limits.DefaultTimeout
	case v.limits.MaxTimeout > 0 && t.Timeout > v.limits.MaxTimeout:
		return invalid("timeout_ms", "exceeds maximum of %d", v.limits.MaxTimeout.Milliseconds())
	}

	if t.Viewport == nil {
		vp := v.limits.Viewport
		t.Viewport = &vp
	} else if t.Viewport.Width <= 0 || t.Viewport.Height <= 0 ||
		t.Viewport.Width > MaxViewportSide || t.Viewport.Height > MaxViewportSide {
		return invalid("viewport", "sides must be within 1..%d", MaxViewportSide)
	}

	return nil
}

// opensPage reports whether the first action loads a document
func opensPage(actions []Action) bool {
	return len(actions) > 0 &&
		(actions[0].Type == ActionNavigate || actions[0].Type == ActionSetContent)
}

func (v *Validator) checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalid(field, "not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid(field, "scheme must be http or https")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return invalid(field, "host is required")
	}
	if !v.hostAllowed(host) {
		return invalid(field, "host %q is not allowed", host)
	}
	return nil
}

func (v *Validator) hostAllowed(host string) bool {
	if len(v.limits.AllowedHosts) == 0 {
		return true
	}
	for _, pattern := range v.limits.AllowedHosts {
		if ok, _ := doublestar.Match(strings.ToLower(pattern), host); ok {
			return true
		}
	}
	return false
}

func (v *Validator) checkAction(field string, a Action) error {
	if a.TimeoutMS < 0 {
		return invalid(field+".timeout_ms", "must not be negative")
	}
	if v.limits.MaxTimeout > 0 && time.Duration(a.TimeoutMS)*time.Millisecond > v.limits.MaxTimeout {
		return invalid(field+".timeout_ms", "exceeds maximum of %d", v.limits.MaxTimeout.Milliseconds())
	}

	switch a.Type {
	case ActionNavigate:
		return v.checkURL(field+".url", a.URL)
	case ActionSetContent:
		if a.HTML == "" {
			return invalid(field+".html", "required")
		}
		if len(a.HTML) > v.limits.MaxHTMLBytes {
			return invalid(field+".html", "exceeds %d bytes", v.limits.MaxHTMLBytes)
		}
	case ActionWaitForSelector:
		if a.Selector == "" {
			return invalid(field+".selector", "required")
		}
		if !selectorStates[a.State] {
			return invalid(field+".state", "unknown selector state %q", a.State)
		}
	case ActionWaitForLoadState:
		if !loadStates[a.State] {
			return invalid(field+".state", "unknown load state %q", a.State)
		}
	case ActionWait:
		if a.DurationMS <= 0 || a.DurationMS > MaxWaitMS {
			return invalid(field+".duration_ms", "must be within 1..%d", MaxWaitMS)
		}
	case ActionClick, ActionFill:
		if a.Selector == "" {
			return invalid(field+".selector", "required")
		}
	case ActionPress:
		if a.Selector == "" {
			return invalid(field+".selector", "required")
		}
		if a.Key == "" {
			return invalid(field+".key", "required")
		}
	case ActionEvaluate:
		if a.Expression == "" {
			return invalid(field+".expression", "required")
		}
		if len(a.Expression) > MaxExpression {
			return invalid(field+".expression", "exceeds %d bytes", MaxExpression)
		}
	case ActionScroll:
		if a.Selector == "" && a.DurationMS == 0 {
			return invalid(field, "scroll needs a selector or a pixel delta in duration_ms")
		}
	case "":
		return invalid(field+".type", "required")
	default:
		return invalid(field+".type", "unknown action %q", a.Type)
	}
	return nil
}

func checkCapture(c *Capture) error {
	if c.Format == "" {
		c.Format = FormatHTML
	}
	if !formats[c.Format] {
		return invalid("capture.format", "unknown format %q", c.Format)
	}

	if c.Format == FormatScreenshot {
		if c.ImageType == "" {
			c.ImageType = DefaultImageType
		}
		if c.ImageType != "png" && c.ImageType != "jpeg" {
			return invalid("capture.image_type", "must be png or jpeg")
		}
		if c.Quality != 0 && c.ImageType != "jpeg" {
			return invalid("capture.quality", "only applies to jpeg")
		}
		if c.Quality < 0 || c.Quality > 100 {
			return invalid("capture.quality", "must be within 0..100")
		}
	}

	if len(c.Extract) > MaxExtractions {
		return invalid("capture.extract", "at most %d extractions allowed", MaxExtractions)
	}
	seen := make(map[string]bool, len(c.Extract))
	for i, e := range c.Extract {
		field := fmt.Sprintf("capture.extract[%d]", i)
		if e.Name == "" {
			return invalid(field+".name", "required")
		}
		if seen[e.Name] {
			return invalid(field+".name", "duplicate name %q", e.Name)
		}
		seen[e.Name] = true

		switch {
		case e.CSS != "" && e.XPath != "":
			return invalid(field, "css and xpath are mutually exclusive")
		case e.CSS != "":
			if _, err := cascadia.Compile(e.CSS); err != nil {
				return invalid(field+".css", "invalid selector: %v", err)
			}
		case e.XPath != "":
			if _, err := xpath.Compile(e.XPath); err != nil {
				return invalid(field+".xpath", "invalid expression: %v", err)
			}
		default:
			return invalid(field, "css or xpath is required")
		}
	}
	return nil
}
