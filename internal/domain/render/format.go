package render

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const hidden = "hidden"

var (
	wordSplit  = regexp.MustCompile(`\s+`)
	moneyChars = regexp.MustCompile(`[^\d.,]`)
)

// NormPrice collapses whitespace
func NormPrice(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FormatPrice normalises a price string and writes the lira as TL
func FormatPrice(s string) string {
	x := NormPrice(s)
	if x == "" {
		return x
	}
	return strings.NewReplacer("TRY", "TL", "try", "TL").Replace(x)
}

// TitleCase capitalises the first letter of every word using Turkish
// casing rules (i→İ, ı→I). The rest of the word is lowered with the
// default mapping, so a dotless capital I becomes i.
// Whitespace between words is kept as is.
func TitleCase(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range wordSplit.FindAllStringIndex(text, -1) {
		b.WriteString(capWord(text[last:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(capWord(text[last:]))
	return b.String()
}

func capWord(w string) string {
	if w == "" {
		return w
	}
	first, size := utf8.DecodeRuneInString(w)
	return string(unicode.TurkishCase.ToUpper(first)) +
		strings.ToLower(w[size:])
}

// ParseMoney reads amounts such as "₺2,390.00", "2.390,00 TL" or "2390 TL".
// When both separators appear the later one is the decimal point; a lone
// comma is a decimal comma.
func ParseMoney(s string) (float64, bool) {
	t := moneyChars.ReplaceAllString(strings.TrimSpace(s), "")
	if t == "" {
		return 0, false
	}

	dot, comma := strings.LastIndex(t, "."), strings.LastIndex(t, ",")
	switch {
	case dot >= 0 && comma >= 0 && comma > dot:
		t = strings.ReplaceAll(t, ".", "")
		t = strings.ReplaceAll(t, ",", ".")
	case dot >= 0 && comma >= 0:
		t = strings.ReplaceAll(t, ",", "")
	case comma >= 0:
		t = strings.ReplaceAll(t, ",", ".")
	}

	v, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DiscountPercent returns the rounded discount of sale against price, and
// false when there is no real discount.
func DiscountPercent(price, sale string) (int, bool) {
	p, ok := ParseMoney(price)
	if !ok || p <= 0 {
		return 0, false
	}
	s, ok := ParseMoney(sale)
	if !ok || s <= 0 || s >= p {
		return 0, false
	}

	pct := int(math.RoundToEven((1 - s/p) * 100))
	if pct <= 0 {
		return 0, false
	}
	return pct, true
}

// HiddenFlags decides which price blocks are hidden. Without a distinct
// sale price only the single price shows; otherwise the old and new prices
// show and the single one is hidden.
func HiddenFlags(price, sale string) (oldHidden, newHidden, singleHidden string) {
	p, s := NormPrice(price), NormPrice(sale)
	if s == "" || s == p {
		return hidden, hidden, ""
	}
	return "", "", hidden
}
