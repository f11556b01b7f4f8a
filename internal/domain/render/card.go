package render

import (
	"html"
	"html/template"
	"net/url"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/framerender/internal/fetch"
	"github.com/microcosm-cc/bluemonday"
)

// Card is one product card request
type Card struct {
	Title      string `json:"title"`
	Price      string `json:"price"`
	SalePrice  string `json:"sale_price"`
	Primary    string `json:"product_image_primary"`
	Secondary1 string `json:"product_image_secondary_1"`
	Secondary2 string `json:"product_image_secondary_2"`
	LogoURL    string `json:"logo_url"`
	Template   string `json:"template"`
}

// CardFromQuery reads a card from /render.png query parameters
func CardFromQuery(q url.Values) Card {
	return Card{
		Title:      q.Get("title"),
		Price:      q.Get("price"),
		SalePrice:  q.Get("sale_price"),
		Primary:    q.Get("product_image_primary"),
		Secondary1: q.Get("product_image_secondary_1"),
		Secondary2: q.Get("product_image_secondary_2"),
		LogoURL:    q.Get("logo_url"),
		Template:   q.Get("template"),
	}
}

var strict = bluemonday.StrictPolicy()

// plain strips any markup from user text. html/template escapes the
// result again, so entities are decoded first.
func plain(s string) string {
	return html.UnescapeString(strict.Sanitize(s))
}

// view builds the template data. Image sources are data URIs already.
func (c Card) view(primary, s1, s2, logo string) view {
	price := FormatPrice(plain(c.Price))
	sale := FormatPrice(plain(c.SalePrice))
	oldHidden, newHidden, singleHidden := HiddenFlags(price, sale)

	v := view{
		ProductImagePrimary:    safeURL(primary),
		ProductImageSecondary1: safeURL(s1),
		ProductImageSecondary2: safeURL(s2),
		LogoURL:                safeURL(logo),
		Title:                  TitleCase(plain(c.Title)),
		Price:                  price,
		SalePrice:              sale,
		OldHidden:              oldHidden,
		NewHidden:              newHidden,
		SingleHidden:           singleHidden,
		DiscountHidden:         hidden,
	}
	if pct, ok := DiscountPercent(price, sale); ok {
		v.DiscountText = "%" + strconv.Itoa(pct) + " İNDİRİM"
		v.DiscountHidden = ""
	}
	return v
}

// safeURL trusts data URIs and http(s) URLs only
func safeURL(s string) template.URL {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "data:image/") || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return template.URL(s)
	}
	return template.URL(fetch.TransparentDataURI)
}
