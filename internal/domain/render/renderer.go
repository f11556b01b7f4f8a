package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
	"github.com/GriffinCanCode/framerender/internal/fetch"
)

// MaxCardHTML bounds a card document with its images inlined
const MaxCardHTML = 40 * 1024 * 1024

// Frame is the element captured by the screenshot
const Frame = ".frame"

// Runner executes browser tasks
type Runner interface {
	RunRetrying(ctx context.Context, t task.Task, retries int) task.Result
}

// Images turns image URLs into data URIs
type Images interface {
	DataURI(ctx context.Context, rawURL string) string
}

// Config configures a Renderer
type Config struct {
	Width    int
	Height   int
	Timeout  time.Duration
	LogoFile string
}

// Renderer turns cards into PNG screenshots through the browser pool
type Renderer struct {
	cfg       Config
	runner    Runner
	images    Images
	templates *Templates
	logo      string
	logger    *zap.Logger
}

// New creates a renderer. A missing logo file leaves the logo transparent.
func New(cfg Config, runner Runner, images Images, templates *Templates, logger *zap.Logger) *Renderer {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1080, 1080
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := &Renderer{
		cfg:       cfg,
		runner:    runner,
		images:    images,
		templates: templates,
		logo:      fetch.TransparentDataURI,
		logger:    logger,
	}
	if cfg.LogoFile != "" {
		if uri, err := fileDataURI(cfg.LogoFile); err != nil {
			logger.Warn("Default logo unavailable", zap.String("path", cfg.LogoFile), zap.Error(err))
		} else {
			r.logo = uri
		}
	}
	return r
}

func fileDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("not an image: %s", mt.String())
	}
	return dataURI(mt.String(), data), nil
}

// HTML inlines the card's images and executes its template
func (r *Renderer) HTML(ctx context.Context, c Card) (string, error) {
	srcs := [4]string{c.Primary, c.Secondary1, c.Secondary2, c.LogoURL}
	var uris [4]string

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		if i == 3 && src == "" {
			uris[i] = r.logo
			continue
		}
		g.Go(func() error {
			uris[i] = r.images.DataURI(gctx, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := r.templates.execute(&buf, c.Template, c.view(uris[0], uris[1], uris[2], uris[3])); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// Task builds the browser task that screenshots a card document
func (r *Renderer) Task(doc, requestID string) task.Task {
	t := task.New(requestID)
	t.Actions = []task.Action{
		{Type: task.ActionSetContent, HTML: doc, State: "domcontentloaded"},
		{Type: task.ActionWaitForLoadState, State: "load"},
		{Type: task.ActionWait, DurationMS: 300},
		{Type: task.ActionWaitForSelector, Selector: Frame, State: "visible", TimeoutMS: 5000},
	}
	t.Capture = task.Capture{Format: task.FormatScreenshot, ImageType: "png", Selector: Frame}
	t.Viewport = &task.Viewport{Width: r.cfg.Width, Height: r.cfg.Height}
	t.Timeout = r.cfg.Timeout
	return t
}

// Render produces the PNG for c. A closed browser target is retried once
// on a fresh session.
func (r *Renderer) Render(ctx context.Context, c Card, requestID string) task.Result {
	doc, err := r.HTML(ctx, c)
	if err != nil {
		t := task.New(requestID)
		r.logger.Error("Card template failed", zap.String("template", c.Template), zap.Error(err))
		return task.Failed(t, "", task.KindCrash, err.Error(), 0)
	}
	return r.runner.RunRetrying(ctx, r.Task(doc, requestID), 1)
}

func dataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
