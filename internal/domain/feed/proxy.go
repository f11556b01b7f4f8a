package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/fetch"
)

// MaxFeedBytes bounds the upstream feed body
const MaxFeedBytes = 64 * 1024 * 1024

// ErrUpstream is returned when the upstream feed cannot be fetched
var ErrUpstream = errors.New("feed upstream unavailable")

// Source fetches the upstream feed
type Source interface {
	Get(ctx context.Context, rawURL string, headers map[string]string, limit int64, purpose string) (*fetch.Response, error)
}

// Proxy fetches the merchant feed and rewrites its image links
type Proxy struct {
	src     Source
	url     string
	timeout time.Duration
	logger  *zap.Logger
}

// NewProxy creates a feed proxy for feedURL
func NewProxy(src Source, feedURL string, timeout time.Duration, logger *zap.Logger) *Proxy {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Proxy{src: src, url: feedURL, timeout: timeout, logger: logger}
}

// Build fetches the feed and rewrites it against baseURL
func (p *Proxy) Build(ctx context.Context, baseURL, fv string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.src.Get(ctx, p.url, map[string]string{"Accept": "application/xml, text/xml, */*"}, MaxFeedBytes, "feed")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	out, items, err := Rewrite(resp.Body, baseURL, fv)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Feed rewritten",
		zap.Int("items", items),
		zap.Int("bytes", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}
