package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// DefaultTemplate is the embedded card layout
const DefaultTemplate = "default"

const (
	templateFile = "template.html"
	stylesFile   = "styles.css"
)

//go:embed assets
var assets embed.FS

// view is the data a card template is executed with
type view struct {
	CSS                    template.CSS
	ProductImagePrimary    template.URL
	ProductImageSecondary1 template.URL
	ProductImageSecondary2 template.URL
	LogoURL                template.URL
	Title                  string
	Price                  string
	SalePrice              string
	OldHidden              string
	NewHidden              string
	SingleHidden           string
	DiscountText           string
	DiscountHidden         string
}

type layout struct {
	tmpl *template.Template
	css  template.CSS
}

// Templates holds the parsed card layouts by name
type Templates struct {
	mu      sync.RWMutex
	layouts map[string]layout
}

// LoadTemplates parses the embedded default layout and every directory
// under dir holding a template.html. A sibling styles.css is optional.
// The directory name is the layout name; a "default" directory replaces
// the embedded one.
func LoadTemplates(dir string, logger *zap.Logger) (*Templates, error) {
	def, err := parseLayout(DefaultTemplate, mustAsset("assets/default/"+templateFile), mustAsset("assets/default/"+stylesFile))
	if err != nil {
		return nil, err
	}
	t := &Templates{layouts: map[string]layout{DefaultTemplate: def}}
	if dir == "" {
		return t, nil
	}

	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("template directory: %w", err)
	}

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != templateFile {
			return nil
		}

		name := filepath.Base(filepath.Dir(p))
		html, err := os.ReadFile(p)
		if err != nil {
			logger.Warn("Skipping unreadable template", zap.String("path", p), zap.Error(err))
			return nil
		}
		css, err := os.ReadFile(filepath.Join(filepath.Dir(p), stylesFile))
		if err != nil && !os.IsNotExist(err) {
			logger.Warn("Skipping unreadable stylesheet", zap.String("template", name), zap.Error(err))
		}

		l, err := parseLayout(name, html, css)
		if err != nil {
			logger.Warn("Skipping invalid template", zap.String("path", p), zap.Error(err))
			return nil
		}

		t.mu.Lock()
		t.layouts[name] = l
		t.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan templates in %s: %w", dir, err)
	}

	logger.Info("Card templates loaded", zap.Strings("names", t.Names()))
	return t, nil
}

func parseLayout(name string, html, css []byte) (layout, error) {
	tmpl, err := template.New(name).Parse(string(html))
	if err != nil {
		return layout{}, fmt.Errorf("parse template %s: %w", name, err)
	}
	return layout{tmpl: tmpl, css: template.CSS(css)}, nil
}

func mustAsset(name string) []byte {
	data, err := assets.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return data
}

// Names returns the available layouts in sorted order
func (t *Templates) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.layouts))
	for name := range t.layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a layout exists
func (t *Templates) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.layouts[name]
	return ok
}

// execute writes the layout called name, falling back to the default
func (t *Templates) execute(w io.Writer, name string, v view) error {
	t.mu.RLock()
	l, ok := t.layouts[name]
	if !ok {
		l = t.layouts[DefaultTemplate]
	}
	t.mu.RUnlock()

	v.CSS = l.css
	return l.tmpl.Execute(w, v)
}
