package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/resilience"
)

const (
	defaultActionTimeout = 30 * time.Second
	maxFailureMessage    = 300
)

// Options configures the Chromium runtime
type Options struct {
	Headless  bool
	Install   bool
	Args      []string
	UserAgent string
	Viewport  task.Viewport
}

// Playwright runs tasks on Chromium through the Playwright driver.
// All sessions share one browser process; each session is a separate
// browser context, and each task gets a fresh page in it.
type Playwright struct {
	opts    Options
	logger  *zap.Logger
	breaker *resilience.Breaker

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser

	// one relaunch at a time, outside mu
	relaunch singleflight.Group
}

var errNotStarted = errors.New("playwright runtime not started")

// NewPlaywright creates a runtime. Start must be called before Launch.
func NewPlaywright(opts Options, logger *zap.Logger) *Playwright {
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport = task.Viewport{Width: 1280, Height: 720}
	}
	r := &Playwright{
		opts:   opts,
		logger: logger,
	}
	r.breaker = resilience.New("chromium-launch", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("launch breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return r
}

// Start installs the driver if configured, starts it and launches Chromium
func (r *Playwright) Start(ctx context.Context) error {
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if r.opts.Install {
		r.logger.Info("installing playwright driver and chromium")
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	r.mu.Lock()
	r.pw = pw
	r.mu.Unlock()

	if _, err := r.ensureBrowser(); err != nil {
		return err
	}
	r.logger.Info("chromium started",
		zap.Bool("headless", r.opts.Headless),
		zap.Strings("args", r.opts.Args))
	return nil
}

// Stop closes the browser and the driver
func (r *Playwright) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.browser != nil {
		if err := r.browser.Close(); err != nil && Classify(err) != task.KindCrash {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		r.browser = nil
	}
	if r.pw != nil {
		if err := r.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop driver: %w", err))
		}
		r.pw = nil
	}
	return errors.Join(errs...)
}

// Connected reports whether the browser process is up
func (r *Playwright) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.browser != nil && r.browser.IsConnected()
}

// Breaker exposes the launch breaker for health reporting
func (r *Playwright) Breaker() *resilience.Breaker {
	return r.breaker
}

// ensureBrowser returns the shared browser, relaunching it when it has
// disconnected. Callers arriving during a relaunch wait for the same one.
func (r *Playwright) ensureBrowser() (playwright.Browser, error) {
	if b, _, err := r.current(); b != nil || err != nil {
		return b, err
	}

	v, err, _ := r.relaunch.Do("chromium", func() (any, error) {
		b, stale, err := r.current()
		if b != nil || err != nil {
			return b, err
		}
		if stale {
			r.logger.Warn("chromium disconnected, relaunching")
		}

		r.mu.Lock()
		pw := r.pw
		r.mu.Unlock()

		b, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(r.opts.Headless),
			Args:     r.opts.Args,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to launch chromium: %w", err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pw != pw {
			// stopped while launching
			_ = b.Close()
			return nil, errNotStarted
		}
		r.browser = b
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(playwright.Browser), nil
}

// current returns the connected browser, if any. stale reports a browser
// that has gone away.
func (r *Playwright) current() (b playwright.Browser, stale bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pw == nil {
		return nil, false, errNotStarted
	}
	if r.browser != nil && r.browser.IsConnected() {
		return r.browser, false, nil
	}
	return nil, r.browser != nil, nil
}

// Launch opens a new browser context as a session. It may outlast ctx while
// Chromium is being relaunched; the pool stops waiting at its deadline.
func (r *Playwright) Launch(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return resilience.Call(r.breaker, func() (*Session, error) {
		b, err := r.ensureBrowser()
		if err != nil {
			return nil, err
		}

		opts := playwright.BrowserNewContextOptions{
			Viewport: &playwright.Size{
				Width:  r.opts.Viewport.Width,
				Height: r.opts.Viewport.Height,
			},
		}
		if r.opts.UserAgent != "" {
			opts.UserAgent = playwright.String(r.opts.UserAgent)
		}

		bc, err := b.NewContext(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create context: %w", err)
		}

		s := NewSession(bc)
		r.logger.Debug("session launched", zap.String("session_id", s.ID.String()))
		return s, nil
	})
}

// Close closes the session's browser context. Safe to call repeatedly.
func (r *Playwright) Close(s *Session) error {
	return s.CloseWith(func() error {
		bc, ok := s.Handle().(playwright.BrowserContext)
		if !ok {
			return nil
		}
		if err := bc.Close(); err != nil && Classify(err) != task.KindCrash {
			return fmt.Errorf("close context: %w", err)
		}
		r.logger.Debug("session closed", zap.String("session_id", s.ID.String()))
		return nil
	})
}

// Execute runs t on a fresh page in the session's context. The page is
// closed as soon as ctx ends, which aborts any in-flight call.
func (r *Playwright) Execute(ctx context.Context, s *Session, t task.Task) (res task.Result) {
	start := time.Now()
	sid := s.ID.String()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while executing task",
				zap.String("task_id", t.ID),
				zap.String("session_id", sid),
				zap.Any("panic", p))
			res = task.Failed(t, sid, task.KindCrash, fmt.Sprintf("runtime panic: %v", p), time.Since(start))
		}
	}()

	if err := ctx.Err(); err != nil {
		return task.Failed(t, sid, task.KindTimeout, "deadline passed before the task started", time.Since(start))
	}

	bc, ok := s.Handle().(playwright.BrowserContext)
	if !ok || s.Closed() {
		return task.Failed(t, sid, task.KindCrash, "session is closed", time.Since(start))
	}

	page, err := bc.NewPage()
	if err != nil {
		return r.fail(ctx, t, sid, fmt.Errorf("open page: %w", err), start)
	}
	stop := context.AfterFunc(ctx, func() { _ = page.Close() })
	defer func() {
		stop()
		_ = page.Close()
	}()

	if t.Viewport != nil {
		if err := page.SetViewportSize(t.Viewport.Width, t.Viewport.Height); err != nil {
			return r.fail(ctx, t, sid, fmt.Errorf("set viewport: %w", err), start)
		}
	}

	run := &execution{page: page, ctx: ctx}
	page.SetDefaultTimeout(run.defaultTimeout())

	for i, step := range t.Steps() {
		if err := run.apply(step); err != nil {
			return r.fail(ctx, t, sid, fmt.Errorf("step %d (%s): %w", i, step.Type, err), start)
		}
	}

	out, err := run.capture(t.Capture)
	if err != nil {
		return r.fail(ctx, t, sid, fmt.Errorf("capture %s: %w", t.Capture.Format, err), start)
	}
	return task.Succeeded(t, sid, out, time.Since(start))
}

func (r *Playwright) fail(ctx context.Context, t task.Task, sid string, err error, start time.Time) task.Result {
	kind := Classify(err)
	msg := summarize(err)
	if ctxErr := ctx.Err(); ctxErr != nil {
		kind = task.KindTimeout
		msg = "task deadline exceeded"
		if errors.Is(ctxErr, context.Canceled) {
			msg = "task canceled"
		}
	}

	r.logger.Debug("task failed",
		zap.String("task_id", t.ID),
		zap.String("session_id", sid),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return task.Failed(t, sid, kind, msg, time.Since(start))
}

// summarize keeps the first line of an error, bounded in length. Playwright
// appends call logs after it.
func summarize(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > maxFailureMessage {
		msg = msg[:maxFailureMessage] + "..."
	}
	return strings.TrimSpace(msg)
}

// execution is the state of one task on one page
type execution struct {
	ctx       context.Context
	page      playwright.Page
	lastValue any
	evaluated bool
}

// defaultTimeout bounds each playwright call by the task deadline, in ms
func (e *execution) defaultTimeout() float64 {
	d := defaultActionTimeout
	if deadline, ok := e.ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return float64(d.Milliseconds())
}

func (e *execution) apply(a task.Action) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	timeout := playwright.Float(a.Timeout(e.defaultTimeout()))

	switch a.Type {
	case task.ActionNavigate:
		opts := playwright.PageGotoOptions{Timeout: timeout}
		if a.State != "" {
			st := playwright.WaitUntilState(a.State)
			opts.WaitUntil = &st
		}
		_, err := e.page.Goto(a.URL, opts)
		return err

	case task.ActionSetContent:
		opts := playwright.PageSetContentOptions{Timeout: timeout}
		if a.State != "" {
			st := playwright.WaitUntilState(a.State)
			opts.WaitUntil = &st
		}
		return e.page.SetContent(a.HTML, opts)

	case task.ActionWaitForSelector:
		opts := playwright.PageWaitForSelectorOptions{Timeout: timeout}
		if a.State != "" {
			st := playwright.WaitForSelectorState(a.State)
			opts.State = &st
		}
		_, err := e.page.WaitForSelector(a.Selector, opts)
		return err

	case task.ActionWaitForLoadState:
		opts := playwright.PageWaitForLoadStateOptions{Timeout: timeout}
		if a.State != "" {
			st := playwright.LoadState(a.State)
			opts.State = &st
		}
		return e.page.WaitForLoadState(opts)

	case task.ActionWait:
		t := time.NewTimer(time.Duration(a.DurationMS) * time.Millisecond)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-e.ctx.Done():
			return e.ctx.Err()
		}

	case task.ActionClick:
		return e.page.Locator(a.Selector).Click(playwright.LocatorClickOptions{Timeout: timeout})

	case task.ActionFill:
		return e.page.Locator(a.Selector).Fill(a.Value, playwright.LocatorFillOptions{Timeout: timeout})

	case task.ActionPress:
		return e.page.Locator(a.Selector).Press(a.Key, playwright.LocatorPressOptions{Timeout: timeout})

	case task.ActionEvaluate:
		v, err := e.page.Evaluate(a.Expression)
		if err != nil {
			return err
		}
		e.lastValue, e.evaluated = v, true
		return nil

	case task.ActionScroll:
		if a.Selector != "" {
			return e.page.Locator(a.Selector).ScrollIntoViewIfNeeded(
				playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: timeout})
		}
		return e.page.Mouse().Wheel(0, float64(a.DurationMS))
	}
	return fmt.Errorf("unsupported action %q", a.Type)
}

func (e *execution) capture(c task.Capture) (task.Output, error) {
	out := task.Output{Format: c.Format, URL: e.page.URL()}
	if title, err := e.page.Title(); err == nil {
		out.Title = title
	}
	timeout := playwright.Float(e.defaultTimeout())

	var doc string
	switch c.Format {
	case task.FormatHTML:
		var err error
		if c.Selector != "" {
			doc, err = e.page.Locator(c.Selector).First().InnerHTML(playwright.LocatorInnerHTMLOptions{Timeout: timeout})
		} else {
			doc, err = e.page.Content()
		}
		if err != nil {
			return out, err
		}
		out.ContentType = "text/html; charset=utf-8"
		out.Data = []byte(doc)

	case task.FormatText:
		selector := c.Selector
		if selector == "" {
			selector = "body"
		}
		text, err := e.page.Locator(selector).First().InnerText(playwright.LocatorInnerTextOptions{Timeout: timeout})
		if err != nil {
			return out, err
		}
		out.ContentType = "text/plain; charset=utf-8"
		out.Data = []byte(text)

	case task.FormatScreenshot:
		img, err := e.screenshot(c, timeout)
		if err != nil {
			return out, err
		}
		out.ContentType = "image/" + c.ImageType
		out.Data = img

	case task.FormatPDF:
		pdf, err := e.page.PDF(playwright.PagePdfOptions{PrintBackground: playwright.Bool(true)})
		if err != nil {
			return out, err
		}
		out.ContentType = "application/pdf"
		out.Data = pdf
	}

	if e.evaluated {
		raw, err := sonic.Marshal(e.lastValue)
		if err != nil {
			return out, fmt.Errorf("encode evaluate result: %w", err)
		}
		out.Value = json.RawMessage(raw)
	}

	if len(c.Extract) > 0 {
		if doc == "" || c.Selector != "" {
			var err error
			if doc, err = e.page.Content(); err != nil {
				return out, err
			}
		}
		extracted, err := Extract(doc, c.Extract)
		if err != nil {
			return out, err
		}
		out.Extracted = extracted
	}
	return out, nil
}

func (e *execution) screenshot(c task.Capture, timeout *float64) ([]byte, error) {
	imageType := playwright.ScreenshotType(c.ImageType)
	var quality *int
	if c.ImageType == "jpeg" && c.Quality > 0 {
		quality = playwright.Int(c.Quality)
	}

	if c.Selector != "" {
		return e.page.Locator(c.Selector).First().Screenshot(playwright.LocatorScreenshotOptions{
			Type:    &imageType,
			Quality: quality,
			Timeout: timeout,
		})
	}
	return e.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(c.FullPage),
		Type:     &imageType,
		Quality:  quality,
		Timeout:  timeout,
	})
}
