package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/framerender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/tracing"
)

// DefaultMaxBody bounds any response body read into memory
const DefaultMaxBody = 16 * 1024 * 1024

var ErrTooLarge = errors.New("response body too large")

// StatusError reports a non-2xx upstream response
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d", e.URL, e.Code)
}

// Config holds outbound HTTP settings
type Config struct {
	Timeout       time.Duration
	UserAgent     string
	Referer       string
	RetryMax      int
	RPS           float64
	MaxImageBytes int64
}

// Response is a fully read upstream response
type Response struct {
	URL         string
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string
}

// Client wraps resty with rate limiting and a circuit breaker
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	cfg     Config
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// New creates an outbound client
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 6_000_000
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.Logger = nil

	restyClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryMax).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetTransport(retryClient.HTTPClient.Transport).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	if cfg.UserAgent != "" {
		restyClient.SetHeader("User-Agent", cfg.UserAgent)
	}
	restyClient.SetHeader("Accept-Language", "tr-TR,tr;q=0.9,en;q=0.8")
	if cfg.Referer != "" {
		restyClient.SetHeader("Referer", cfg.Referer)
		restyClient.SetHeader("Origin", origin(cfg.Referer))
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	breaker := resilience.New("http-upstream", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
		// a caller hanging up says nothing about the upstream
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("upstream breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
	}
}

// WithMetrics counts fetches by purpose and outcome
func (c *Client) WithMetrics(m *monitoring.Metrics) *Client {
	c.metrics = m
	return c
}

// Breaker returns the upstream circuit breaker
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

// request creates a request once the breaker and rate limiter allow it
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if c.breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}
	req := c.resty.R().SetContext(ctx).SetDoNotParseResponse(true)
	tracing.Inject(ctx, req.Header)
	return req, nil
}

// Get fetches rawURL and reads at most limit bytes of the body. Non-2xx
// responses are returned together with a *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, limit int64, purpose string) (*Response, error) {
	if limit <= 0 {
		limit = DefaultMaxBody
	}

	req, err := c.request(ctx)
	if err != nil {
		c.record(purpose, outcome(err))
		return nil, err
	}

	var out *Response
	err = c.breaker.Execute(func() error {
		resp, err := req.SetHeaders(headers).Get(rawURL)
		if err != nil {
			return err
		}
		body := resp.RawBody()
		defer body.Close()

		data, err := io.ReadAll(io.LimitReader(body, limit+1))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}

		out = &Response{
			URL:         rawURL,
			StatusCode:  resp.StatusCode(),
			Header:      resp.Header(),
			Body:        data,
			ContentType: resp.Header().Get("Content-Type"),
		}
		if resp.StatusCode() >= 500 {
			return &StatusError{Code: resp.StatusCode(), URL: rawURL}
		}
		return nil
	})

	switch {
	case err != nil && out == nil:
		c.record(purpose, outcome(err))
		c.logger.Debug("fetch failed", zap.String("url", rawURL), zap.String("purpose", purpose), zap.Error(err))
		return nil, err
	case int64(len(out.Body)) > limit:
		out.Body = out.Body[:limit]
		c.record(purpose, "too_large")
		return out, ErrTooLarge
	case out.StatusCode < 200 || out.StatusCode > 299:
		c.record(purpose, "status")
		return out, &StatusError{Code: out.StatusCode, URL: rawURL}
	}
	c.record(purpose, "ok")
	return out, nil
}

func (c *Client) record(purpose, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordFetch(purpose, outcome)
	}
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.As(err, &se):
		return "status"
	default:
		return "error"
	}
}

// origin returns scheme://host of a URL
func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
