package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/framerender/internal/api/http"
	"github.com/GriffinCanCode/framerender/internal/api/middleware"
	"github.com/GriffinCanCode/framerender/internal/browser"
	"github.com/GriffinCanCode/framerender/internal/domain/feed"
	"github.com/GriffinCanCode/framerender/internal/domain/render"
	"github.com/GriffinCanCode/framerender/internal/domain/task"
	"github.com/GriffinCanCode/framerender/internal/fetch"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/config"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/framerender/internal/orchestrator"
	"github.com/GriffinCanCode/framerender/internal/pool"
	"github.com/GriffinCanCode/framerender/internal/ws"
)

// Runtime is the browser backend the server drives
type Runtime interface {
	browser.Runtime
	Breaker() *resilience.Breaker
	Stop() error
}

// Server wraps the HTTP server and dependencies
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	runtime Runtime
	pool    *pool.Pool
	router  *gin.Engine
	http    *http.Server
}

// NewServer starts Chromium and wires the service around it
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := logging.New(cfg.Logging)

	logger.Info("Initializing framerender",
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("max_sessions", cfg.Pool.MaxSessions),
		zap.Bool("headless", cfg.Browser.Headless),
	)

	rt := browser.NewPlaywright(browser.Options{
		Headless:  cfg.Browser.Headless,
		Install:   cfg.Browser.Install,
		Args:      cfg.Browser.Args,
		UserAgent: cfg.Browser.UserAgent,
		Viewport:  task.Viewport{Width: cfg.Browser.ViewportWidth, Height: cfg.Browser.ViewportHeight},
	}, logger.Component("browser"))
	if err := rt.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start browser runtime: %w", err)
	}
	logger.Info("Browser runtime started")

	s, err := New(cfg, logger, rt)
	if err != nil {
		if stopErr := rt.Stop(); stopErr != nil {
			logger.Error("Failed to stop browser runtime", zap.Error(stopErr))
		}
		return nil, err
	}
	return s, nil
}

// New wires the service around an already started runtime
func New(cfg *config.Config, logger *logging.Logger, rt Runtime) (*Server, error) {
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("framerender", logger.Logger)

	p := pool.New(pool.Config{
		MinIdle:        cfg.Pool.MinIdle,
		MaxSessions:    cfg.Pool.MaxSessions,
		MaxUses:        cfg.Pool.MaxUses,
		MaxAge:         cfg.Pool.MaxAge,
		MaxIdleTime:    cfg.Pool.MaxIdleTime,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		ReapInterval:   cfg.Pool.ReapInterval,
	}, rt, logger.Component("pool")).WithMetrics(metrics)

	limits := task.Limits{
		DefaultTimeout: cfg.Task.DefaultTimeout,
		MaxTimeout:     cfg.Task.MaxTimeout,
		MaxActions:     cfg.Task.MaxActions,
		AllowedHosts:   cfg.Browser.AllowedHosts,
		Viewport:       task.Viewport{Width: cfg.Browser.ViewportWidth, Height: cfg.Browser.ViewportHeight},
	}
	validator, err := task.NewValidator(limits)
	if err != nil {
		return nil, fmt.Errorf("invalid task limits: %w", err)
	}
	cardLimits := limits
	cardLimits.MaxHTMLBytes = render.MaxCardHTML
	cardLimits.Viewport = task.Viewport{Width: cfg.Render.Width, Height: cfg.Render.Height}
	if cfg.Render.Timeout > cardLimits.MaxTimeout {
		cardLimits.MaxTimeout = cfg.Render.Timeout
	}
	cardValidator, err := task.NewValidator(cardLimits)
	if err != nil {
		return nil, fmt.Errorf("invalid render limits: %w", err)
	}

	presets, err := task.LoadPresets(cfg.Task.PresetsFile)
	if err != nil {
		return nil, err
	}
	if names := presets.Names(); len(names) > 0 {
		logger.Info("Task presets loaded", zap.Strings("presets", names))
	}

	runnerOpts := []orchestrator.Option{
		orchestrator.WithTracer(tracer),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithAcquireTimeout(cfg.Pool.AcquireTimeout),
	}
	runner := orchestrator.New(validator, p, rt, logger.Component("runner"), runnerOpts...)
	cardRunner := orchestrator.New(cardValidator, p, rt, logger.Component("render"), runnerOpts...)

	fetcher := fetch.New(fetch.Config{
		Timeout:       cfg.Fetch.Timeout,
		UserAgent:     cfg.Fetch.UserAgent,
		Referer:       cfg.Fetch.Referer,
		RetryMax:      cfg.Fetch.RetryMax,
		RPS:           cfg.Fetch.RPS,
		MaxImageBytes: cfg.Fetch.MaxImageBytes,
	}, logger.Component("fetch")).WithMetrics(metrics)

	templates, err := render.LoadTemplates(cfg.Render.TemplateDir, logger.Component("templates"))
	if err != nil {
		return nil, err
	}
	renderer := render.New(render.Config{
		Width:    cfg.Render.Width,
		Height:   cfg.Render.Height,
		Timeout:  cfg.Render.Timeout,
		LogoFile: filepath.Join(cfg.Render.StaticDir, path.Base(cfg.Render.LogoPath)),
	}, cardRunner, fetcher, templates, logger.Component("render"))

	feedProxy := feed.NewProxy(fetcher, cfg.Feed.URL, cfg.Feed.Timeout, logger.Component("feed"))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(apihttp.RequestID())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics, "/metrics", "/pool/stream"))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Runner:        runner,
		Presets:       presets,
		Renderer:      renderer,
		Feed:          feedProxy,
		Prober:        fetcher,
		Pool:          p,
		Breakers:      []*resilience.Breaker{rt.Breaker(), fetcher.Breaker()},
		Metrics:       metrics,
		Logger:        logger.Component("http"),
		BaseURL:       cfg.Server.BaseURL,
		FallbackBlank: cfg.Render.FallbackBlank,
		RetryAfter:    cfg.Pool.AcquireTimeout,
	})
	handlers.Register(router)

	wsHandler := ws.NewHandler(p, time.Second, logger.Component("ws")).WithMetrics(metrics)
	router.GET("/pool/stream", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.Static("/static", cfg.Render.StaticDir)

	var handler http.Handler = router
	if cfg.Server.Gzip {
		handler = compress(router)
	}

	p.Start()
	logger.Info("Server initialized successfully")

	return &Server{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		runtime: rt,
		pool:    p,
		router:  router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// compress gzips responses except WebSocket upgrades, which need the raw
// connection
func compress(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the pool and the browser
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pool close: %w", err))
	}
	if err := s.runtime.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("browser stop: %w", err))
	}
	s.tracer.Close()

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
		_ = s.logger.Sync()
		return err
	}
	s.logger.Info("Shutdown complete")
	_ = s.logger.Sync()
	return nil
}
