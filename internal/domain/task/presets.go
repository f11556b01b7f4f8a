package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Spec is a partial task. Presets and request bodies share this shape.
type Spec struct {
	URL       string    `json:"url,omitempty" yaml:"url" toml:"url"`
	HTML      string    `json:"html,omitempty" yaml:"html" toml:"html"`
	Actions   []Action  `json:"actions,omitempty" yaml:"actions" toml:"actions"`
	Capture   *Capture  `json:"capture,omitempty" yaml:"capture" toml:"capture"`
	Viewport  *Viewport `json:"viewport,omitempty" yaml:"viewport" toml:"viewport"`
	TimeoutMS int       `json:"timeout_ms,omitempty" yaml:"timeout_ms" toml:"timeout_ms"`
}

// Request is the body of POST /tasks
type Request struct {
	Preset string `json:"preset,omitempty"`
	Spec
}

// check rejects a partial task that names both targets
func (s Spec) check() error {
	if s.URL != "" && s.HTML != "" {
		return &ValidationError{Field: "url", Message: "url and html are mutually exclusive"}
	}
	return nil
}

// apply overlays s onto t. Actions are appended, everything else replaces;
// a request target replaces the preset target of either kind.
func (s Spec) apply(t *Task) {
	switch {
	case s.URL != "":
		t.URL, t.HTML = s.URL, ""
	case s.HTML != "":
		t.URL, t.HTML = "", s.HTML
	}
	t.Actions = append(t.Actions, s.Actions...)
	if s.Capture != nil {
		t.Capture = *s.Capture
		t.Capture.Extract = append([]Extraction(nil), s.Capture.Extract...)
	}
	if s.Viewport != nil {
		vp := *s.Viewport
		t.Viewport = &vp
	}
	if s.TimeoutMS != 0 {
		t.Timeout = time.Duration(s.TimeoutMS) * time.Millisecond
	}
}

// Presets holds named partial tasks loaded from a file
type Presets struct {
	byName map[string]Spec
}

// NewPresets wraps an in-memory preset table
func NewPresets(byName map[string]Spec) *Presets {
	if byName == nil {
		byName = map[string]Spec{}
	}
	return &Presets{byName: byName}
}

// LoadPresets reads a preset table. The format follows the file extension:
// .yaml/.yml, .toml or .json. An empty path yields an empty table.
func LoadPresets(path string) (*Presets, error) {
	if path == "" {
		return NewPresets(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}

	byName := map[string]Spec{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &byName)
	case ".toml":
		err = toml.Unmarshal(data, &byName)
	case ".json":
		err = sonic.Unmarshal(data, &byName)
	default:
		return nil, fmt.Errorf("unsupported presets format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	return NewPresets(byName), nil
}

// Names returns the preset names in sorted order
func (p *Presets) Names() []string {
	names := make([]string, 0, len(p.byName))
	for name := range p.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build turns a request into a task: the named preset first, then the
// request's own fields on top. A request or preset naming both url and html
// is rejected before anything is merged.
func (p *Presets) Build(req Request, requestID string) (Task, error) {
	t := New(requestID)
	if req.Preset != "" {
		preset, ok := p.byName[req.Preset]
		if !ok {
			return t, &ValidationError{Field: "preset", Message: fmt.Sprintf("unknown preset %q", req.Preset)}
		}
		if err := preset.check(); err != nil {
			return t, &ValidationError{Field: "preset", Message: fmt.Sprintf("preset %q: %s", req.Preset, err)}
		}
		preset.apply(&t)
	}
	if err := req.Spec.check(); err != nil {
		return t, err
	}
	req.Spec.apply(&t)
	return t, nil
}
