package render

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
	"github.com/GriffinCanCode/framerender/internal/fetch"
)

type fakeImages struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeImages) DataURI(_ context.Context, rawURL string) string {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	if rawURL == "" {
		return fetch.TransparentDataURI
	}
	return "data:image/jpeg;base64," + strings.TrimPrefix(rawURL, "https://img/")
}

type fakeRunner struct {
	runs    atomic.Int32
	retries int
	last    task.Task
	result  func(task.Task) task.Result
}

func (f *fakeRunner) RunRetrying(_ context.Context, t task.Task, retries int) task.Result {
	f.runs.Add(1)
	f.retries = retries
	f.last = t
	return f.result(t)
}

func newTemplates(t *testing.T, dir string) *Templates {
	t.Helper()
	tmpl, err := LoadTemplates(dir, zap.NewNop())
	require.NoError(t, err)
	return tmpl
}

func sampleCard() Card {
	return Card{
		Title:      "kadın <b>deri</b> çanta",
		Price:      "1.000,00 TRY",
		SalePrice:  "750,00 TRY",
		Primary:    "https://img/AAA",
		Secondary1: "https://img/BBB",
		Secondary2: "",
	}
}

func TestCardFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("title", "Çanta")
	q.Set("price", "100 TL")
	q.Set("sale_price", "80 TL")
	q.Set("product_image_primary", "https://img/p")
	q.Set("product_image_secondary_1", "https://img/s1")
	q.Set("product_image_secondary_2", "https://img/s2")
	q.Set("logo_url", "https://img/logo")
	q.Set("template", "minimal")

	c := CardFromQuery(q)
	assert.Equal(t, Card{
		Title:      "Çanta",
		Price:      "100 TL",
		SalePrice:  "80 TL",
		Primary:    "https://img/p",
		Secondary1: "https://img/s1",
		Secondary2: "https://img/s2",
		LogoURL:    "https://img/logo",
		Template:   "minimal",
	}, c)
}

func TestDefaultTemplate(t *testing.T) {
	tmpl := newTemplates(t, "")
	assert.Equal(t, []string{DefaultTemplate}, tmpl.Names())

	r := New(Config{}, nil, &fakeImages{}, tmpl, zap.NewNop())
	doc, err := r.HTML(context.Background(), sampleCard())
	require.NoError(t, err)

	assert.Contains(t, doc, `class="frame"`)
	assert.Contains(t, doc, "Kadın Deri Çanta")
	assert.NotContains(t, doc, "<b>")
	assert.Contains(t, doc, "1.000,00 TL")
	assert.Contains(t, doc, "750,00 TL")
	assert.Contains(t, doc, "%25")
	assert.Contains(t, doc, `src="data:image/jpeg;base64,AAA"`)
	assert.Contains(t, doc, `src="data:image/jpeg;base64,BBB"`)
	assert.Contains(t, doc, `class="single hidden"`)
	assert.Contains(t, doc, `class="badge "`)
	assert.Contains(t, doc, ".frame")
}

func TestHTMLWithoutSale(t *testing.T) {
	r := New(Config{}, nil, &fakeImages{}, newTemplates(t, ""), zap.NewNop())
	c := sampleCard()
	c.SalePrice = ""

	doc, err := r.HTML(context.Background(), c)
	require.NoError(t, err)
	assert.Contains(t, doc, `class="old hidden"`)
	assert.Contains(t, doc, `class="new hidden"`)
	assert.Contains(t, doc, `class="single "`)
	assert.Contains(t, doc, `class="badge hidden"`)
}

func TestHTMLInlinesImages(t *testing.T) {
	images := &fakeImages{}
	r := New(Config{}, nil, images, newTemplates(t, ""), zap.NewNop())

	c := sampleCard()
	c.LogoURL = "https://img/LOGO"
	_, err := r.HTML(context.Background(), c)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://img/AAA", "https://img/BBB", "", "https://img/LOGO"}, images.calls)
}

func TestHTMLDefaultLogo(t *testing.T) {
	dir := t.TempDir()
	logo := filepath.Join(dir, "logo.svg")
	require.NoError(t, os.WriteFile(logo,
		[]byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`), 0o644))

	images := &fakeImages{}
	r := New(Config{LogoFile: logo}, nil, images, newTemplates(t, ""), zap.NewNop())
	doc, err := r.HTML(context.Background(), sampleCard())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(logoSrc(t, doc), "data:image/svg+xml;base64,"), logoSrc(t, doc))
	assert.Len(t, images.calls, 3)
}

// logoSrc returns the decoded src of the card logo
func logoSrc(t *testing.T, doc string) string {
	t.Helper()
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	require.NoError(t, err)
	return parsed.Find("img.logo").AttrOr("src", "")
}

func TestMissingLogoFile(t *testing.T) {
	r := New(Config{LogoFile: "/nonexistent/logo.svg"}, nil, &fakeImages{}, newTemplates(t, ""), zap.NewNop())
	assert.Equal(t, fetch.TransparentDataURI, r.logo)
}

func TestUnsafeImageURL(t *testing.T) {
	assert.Equal(t, fetch.TransparentDataURI, string(safeURL("javascript:alert(1)")))
	assert.Equal(t, "https://x/y.png", string(safeURL("https://x/y.png")))
}

func TestCustomTemplates(t *testing.T) {
	dir := t.TempDir()
	minimal := filepath.Join(dir, "minimal")
	require.NoError(t, os.MkdirAll(minimal, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(minimal, "template.html"),
		[]byte(`<style>{{.CSS}}</style><div class="frame">{{.Title}}</div>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(minimal, "styles.css"),
		[]byte(`.frame{width:500px}`), 0o644))

	broken := filepath.Join(dir, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "template.html"), []byte(`{{.Title`), 0o644))

	tmpl := newTemplates(t, dir)
	assert.Equal(t, []string{"default", "minimal"}, tmpl.Names())
	assert.True(t, tmpl.Has("minimal"))
	assert.False(t, tmpl.Has("broken"))

	r := New(Config{}, nil, &fakeImages{}, tmpl, zap.NewNop())
	c := sampleCard()
	c.Template = "minimal"
	doc, err := r.HTML(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, `<style>.frame{width:500px}</style><div class="frame">Kadın Deri Çanta</div>`, doc)

	c.Template = "unknown"
	doc, err = r.HTML(context.Background(), c)
	require.NoError(t, err)
	assert.Contains(t, doc, `<div class="gallery">`)
}

func TestLoadTemplatesMissingDir(t *testing.T) {
	_, err := LoadTemplates(filepath.Join(t.TempDir(), "missing"), zap.NewNop())
	assert.Error(t, err)
}

func TestRenderTask(t *testing.T) {
	runner := &fakeRunner{result: func(t task.Task) task.Result {
		return task.Succeeded(t, "s-1", task.Output{Format: task.FormatScreenshot, Data: fetch.TransparentPNG}, 0)
	}}
	r := New(Config{Width: 1080, Height: 1080}, runner, &fakeImages{}, newTemplates(t, ""), zap.NewNop())

	res := r.Render(context.Background(), sampleCard(), "req-1")
	require.True(t, res.OK())
	assert.Equal(t, fetch.TransparentPNG, res.Output.Data)
	assert.Equal(t, 1, runner.retries)

	got := runner.last
	assert.Equal(t, "req-1", got.RequestID)
	require.Len(t, got.Actions, 4)
	assert.Equal(t, task.ActionSetContent, got.Actions[0].Type)
	assert.Equal(t, "domcontentloaded", got.Actions[0].State)
	assert.Contains(t, got.Actions[0].HTML, "Kadın Deri Çanta")
	assert.Equal(t, task.ActionWaitForLoadState, got.Actions[1].Type)
	assert.Equal(t, 300, got.Actions[2].DurationMS)
	assert.Equal(t, Frame, got.Actions[3].Selector)
	assert.Equal(t, 5000, got.Actions[3].TimeoutMS)
	assert.Equal(t, task.Capture{Format: task.FormatScreenshot, ImageType: "png", Selector: Frame}, got.Capture)
	assert.Equal(t, &task.Viewport{Width: 1080, Height: 1080}, got.Viewport)
}

func TestRenderTaskValidates(t *testing.T) {
	v, err := task.NewValidator(task.Limits{MaxHTMLBytes: MaxCardHTML})
	require.NoError(t, err)

	r := New(Config{}, nil, &fakeImages{}, newTemplates(t, ""), zap.NewNop())
	doc, err := r.HTML(context.Background(), sampleCard())
	require.NoError(t, err)

	tk := r.Task(doc, "req")
	assert.NoError(t, v.Validate(&tk))
}

func TestRenderFailure(t *testing.T) {
	runner := &fakeRunner{result: func(t task.Task) task.Result {
		return task.Failed(t, "", task.KindPoolTimeout, "no session", 0)
	}}
	r := New(Config{}, runner, &fakeImages{}, newTemplates(t, ""), zap.NewNop())

	res := r.Render(context.Background(), sampleCard(), "req")
	assert.False(t, res.OK())
	assert.Equal(t, task.KindPoolTimeout, res.Kind())
	assert.EqualValues(t, 1, runner.runs.Load())
}
