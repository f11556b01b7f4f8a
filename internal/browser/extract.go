package browser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
)

// Extract runs named CSS and XPath extractions over a rendered document.
// A value is the attribute when Attr is set, otherwise the trimmed text.
func Extract(doc string, extractions []task.Extraction) (map[string][]string, error) {
	if len(extractions) == 0 {
		return nil, nil
	}

	out := make(map[string][]string, len(extractions))
	var (
		gq   *goquery.Document
		root *html.Node
	)

	for _, e := range extractions {
		switch {
		case e.CSS != "":
			if gq == nil {
				d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
				if err != nil {
					return nil, fmt.Errorf("parse html: %w", err)
				}
				gq = d
			}
			out[e.Name] = extractCSS(gq, e)

		case e.XPath != "":
			if root == nil {
				n, err := htmlquery.Parse(strings.NewReader(doc))
				if err != nil {
					return nil, fmt.Errorf("parse html: %w", err)
				}
				root = n
			}
			values, err := extractXPath(root, e)
			if err != nil {
				return nil, err
			}
			out[e.Name] = values
		}
	}
	return out, nil
}

func extractCSS(doc *goquery.Document, e task.Extraction) []string {
	values := []string{}
	doc.Find(e.CSS).Each(func(_ int, s *goquery.Selection) {
		if e.Attr != "" {
			if v, ok := s.Attr(e.Attr); ok {
				values = append(values, v)
			}
			return
		}
		values = append(values, strings.TrimSpace(s.Text()))
	})
	return values
}

func extractXPath(root *html.Node, e task.Extraction) ([]string, error) {
	nodes, err := htmlquery.QueryAll(root, e.XPath)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", e.Name, err)
	}

	values := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if e.Attr != "" {
			if htmlquery.ExistsAttr(n, e.Attr) {
				values = append(values, htmlquery.SelectAttr(n, e.Attr))
			}
			continue
		}
		values = append(values, strings.TrimSpace(htmlquery.InnerText(n)))
	}
	return values, nil
}
