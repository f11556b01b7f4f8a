package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

const (
	probeHeadBytes   = 50
	probePreviewRune = 300
)

// ProbeResult describes what an upstream URL serves
type ProbeResult struct {
	URL              string  `json:"url"`
	StatusCode       int     `json:"status_code,omitempty"`
	ContentType      string  `json:"content_type,omitempty"`
	ContentLength    int     `json:"content_length"`
	FirstBytesBase64 string  `json:"first_50_bytes_base64,omitempty"`
	Charset          string  `json:"charset,omitempty"`
	Title            string  `json:"title,omitempty"`
	TextPreview      *string `json:"text_preview"`
	Error            string  `json:"error,omitempty"`
}

// Probe fetches rawURL with the image headers and summarises the response.
// Failures are reported in the result rather than as an error.
func (c *Client) Probe(ctx context.Context, rawURL string) ProbeResult {
	res := ProbeResult{URL: rawURL}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		res.Error = "url must be an absolute http or https URL"
		return res
	}

	resp, err := c.Get(ctx, rawURL, imageHeaders, DefaultMaxBody, "probe")
	if resp == nil {
		res.Error = err.Error()
		return res
	}

	res.StatusCode = resp.StatusCode
	res.ContentType = resp.ContentType
	res.ContentLength = len(resp.Body)
	head := resp.Body
	if len(head) > probeHeadBytes {
		head = head[:probeHeadBytes]
	}
	res.FirstBytesBase64 = base64.StdEncoding.EncodeToString(head)

	if !isText(resp.ContentType) {
		return res
	}

	text, cs := DecodeText(resp.Body, resp.ContentType)
	res.Charset = cs
	preview := truncateRunes(text, probePreviewRune)
	res.TextPreview = &preview

	if strings.Contains(strings.ToLower(resp.ContentType), "html") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			res.Title = strings.TrimSpace(doc.Find("title").First().Text())
		}
	}
	return res
}

// DetectCharset guesses the encoding of body, defaulting to utf-8
func DetectCharset(body []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(body)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// DecodeText converts body to UTF-8. A charset in contentType wins;
// otherwise the charset is detected from the bytes.
func DecodeText(body []byte, contentType string) (string, string) {
	cs := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		cs = strings.ToLower(params["charset"])
	}
	if cs == "" {
		if utf8.Valid(body) {
			return string(body), "utf-8"
		}
		cs = DetectCharset(body)
	}

	r, err := charset.NewReader(bytes.NewReader(body), fmt.Sprintf("text/plain; charset=%s", cs))
	if err != nil {
		return strings.ToValidUTF8(string(body), "�"), cs
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return strings.ToValidUTF8(string(body), "�"), cs
	}
	return string(decoded), cs
}

func isText(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text") || strings.Contains(ct, "html") ||
		strings.Contains(ct, "xml") || strings.Contains(ct, "json")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
