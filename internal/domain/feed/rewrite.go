package feed

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/framerender/internal/domain/render"
)

// GoogleNS is the Google Merchant namespace used by g: elements
const GoogleNS = "http://base.google.com/ns/1.0"

// ErrMalformed is returned when the upstream body is not XML
var ErrMalformed = errors.New("malformed feed")

var trackingParams = map[string]bool{"fbclid": true, "gclid": true}

// CleanURL drops tracking parameters (utm_*, fbclid, gclid) so that the
// same image linked twice compares equal
func CleanURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	var kept []string
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		key = strings.ToLower(key)
		if strings.HasPrefix(key, "utm_") || trackingParams[key] {
			continue
		}
		kept = append(kept, pair)
	}
	u.RawQuery = strings.Join(kept, "&")
	return u.String()
}

// ChooseImages picks up to three distinct images, the primary first.
// Duplicates are detected on cleaned URLs but the original URL is kept.
// Missing secondaries repeat the previous image.
func ChooseImages(primary string, additional []string) (string, string, string) {
	primary = strings.TrimSpace(primary)
	all := make([]string, 0, len(additional)+1)
	all = append(all, primary)
	for _, a := range additional {
		if a = strings.TrimSpace(a); a != "" {
			all = append(all, a)
		}
	}

	seen := make(map[string]bool, len(all))
	uniq := make([]string, 0, 3)
	for _, u := range all {
		cu := CleanURL(u)
		if cu == "" || seen[cu] {
			continue
		}
		seen[cu] = true
		uniq = append(uniq, u)
	}

	p, s1, s2 := primary, "", ""
	if len(uniq) > 0 {
		p = uniq[0]
	}
	if len(uniq) > 1 {
		s1 = uniq[1]
	}
	if len(uniq) > 2 {
		s2 = uniq[2]
	}
	if s1 == "" {
		s1 = p
	}
	if s2 == "" {
		s2 = s1
	}
	return p, s1, s2
}

// Sig fingerprints the card inputs so that feed consumers refetch an image
// only when something on it changed
func Sig(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:12]
}

// Item is the card data read from one feed item
type Item struct {
	Title      string
	Price      string
	SalePrice  string
	Primary    string
	Secondary1 string
	Secondary2 string
}

// RenderURL builds the /render.png link for an item. fv is the caller's
// cache-busting version, passed through as fv and folded into v.
func RenderURL(baseURL string, it Item, fv string) string {
	sig := Sig(it.Title, it.Price, it.SalePrice, it.Primary, it.Secondary1, it.Secondary2, fv)

	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	b.WriteString("/render.png")
	sep := "?"
	for _, kv := range [][2]string{
		{"title", it.Title},
		{"price", it.Price},
		{"sale_price", it.SalePrice},
		{"product_image_primary", it.Primary},
		{"product_image_secondary_1", it.Secondary1},
		{"product_image_secondary_2", it.Secondary2},
		{"fv", fv},
		{"v", sig},
	} {
		b.WriteString(sep)
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[1]))
		sep = "&"
	}
	return b.String()
}

// Rewrite points every item's image_link at its rendered card and replaces
// the additional_image_link elements with two copies of the same link.
// A document without a channel is returned unchanged. The count of
// rewritten items is returned alongside the new document.
func Rewrite(body []byte, baseURL, fv string) ([]byte, int, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if err := doc.ReadFromBytes(trimBOM(body)); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, 0, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	channel := root.SelectElement("channel")
	if channel == nil {
		return body, 0, nil
	}

	prefix := googlePrefix(root)
	items := channel.SelectElements("item")
	for _, item := range items {
		it := readItem(item)
		link := RenderURL(baseURL, it, fv)

		img := googleChild(item, "image_link")
		if img == nil {
			img = item.CreateElement(prefix + ":image_link")
		}
		img.SetText(link)

		for _, extra := range googleChildren(item, "additional_image_link") {
			item.RemoveChild(extra)
		}
		for range 2 {
			item.CreateElement(prefix + ":additional_image_link").SetText(link)
		}
	}

	// output is always UTF-8 whatever the upstream declared
	stripDeclaration(doc)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, 0, fmt.Errorf("write feed: %w", err)
	}
	return append([]byte(xml.Header), bytes.TrimLeft(out, " \t\r\n")...), len(items), nil
}

func readItem(item *etree.Element) Item {
	var additional []string
	for _, e := range googleChildren(item, "additional_image_link") {
		additional = append(additional, e.Text())
	}
	primary, s1, s2 := ChooseImages(googleText(item, "image_link"), additional)

	return Item{
		Title:      render.TitleCase(plainText(item, "title")),
		Price:      render.FormatPrice(googleText(item, "price")),
		SalePrice:  render.FormatPrice(googleText(item, "sale_price")),
		Primary:    primary,
		Secondary1: s1,
		Secondary2: s2,
	}
}

// googlePrefix returns the prefix bound to GoogleNS on root, declaring g
// when the feed has none
func googlePrefix(root *etree.Element) string {
	for _, a := range root.Attr {
		if a.Space == "xmlns" && a.Value == GoogleNS {
			return a.Key
		}
	}
	root.CreateAttr("xmlns:g", GoogleNS)
	return "g"
}

func googleChildren(e *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range e.ChildElements() {
		if c.Tag == tag && c.NamespaceURI() == GoogleNS {
			out = append(out, c)
		}
	}
	return out
}

func googleChild(e *etree.Element, tag string) *etree.Element {
	if cs := googleChildren(e, tag); len(cs) > 0 {
		return cs[0]
	}
	return nil
}

func googleText(e *etree.Element, tag string) string {
	if c := googleChild(e, tag); c != nil {
		return c.Text()
	}
	return ""
}

// plainText reads an un-prefixed child; SelectElement would also match g:title
func plainText(e *etree.Element, tag string) string {
	for _, c := range e.ChildElements() {
		if c.Space == "" && c.Tag == tag {
			return c.Text()
		}
	}
	return ""
}

func stripDeclaration(doc *etree.Document) {
	var decls []etree.Token
	for _, t := range doc.Child {
		if p, ok := t.(*etree.ProcInst); ok && p.Target == "xml" {
			decls = append(decls, p)
		}
	}
	for _, d := range decls {
		doc.RemoveChild(d)
	}
}

// trimBOM strips a UTF-8 byte order mark
func trimBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
}
