package fetch

import (
	"context"
	"encoding/base64"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// TransparentPNG is a 1x1 transparent PNG
var TransparentPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGMAAQAABQABDQottAAAAABJRU5ErkJggg==")

// TransparentDataURI is TransparentPNG as a data URI
var TransparentDataURI = "data:image/png;base64," + base64.StdEncoding.EncodeToString(TransparentPNG)

var imageHeaders = map[string]string{
	"Accept": "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
}

// DataURI downloads an image and inlines it as a data URI. Empty URLs,
// failed downloads and images over the size cap become TransparentDataURI.
// Existing data URIs are returned unchanged.
func (c *Client) DataURI(ctx context.Context, rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return TransparentDataURI
	}
	if strings.HasPrefix(rawURL, "data:") {
		return rawURL
	}

	resp, err := c.Get(ctx, rawURL, imageHeaders, c.cfg.MaxImageBytes, "image")
	if err != nil {
		c.logger.Debug("image inlining fell back to transparent pixel",
			zap.String("url", rawURL),
			zap.Error(err))
		return TransparentDataURI
	}

	return "data:" + imageMIME(rawURL, resp.ContentType, resp.Body) + ";base64," +
		base64.StdEncoding.EncodeToString(resp.Body)
}

// imageMIME picks the image type from the Content-Type header, then the
// bytes, then the URL extension, defaulting to JPEG.
func imageMIME(rawURL, contentType string, body []byte) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}
	if detected := mimetype.Detect(body); strings.HasPrefix(detected.String(), "image/") {
		mt, _, _ := mime.ParseMediaType(detected.String())
		return mt
	}

	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, ".png"):
		return "image/png"
	case strings.Contains(u, ".webp"):
		return "image/webp"
	case strings.Contains(u, ".svg"):
		return "image/svg+xml"
	}
	return "image/jpeg"
}
