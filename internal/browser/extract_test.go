package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/framerender/internal/domain/task"
)

const extractDoc = `<html><head><title>Shop</title></head><body>
<h1> Ayakkabı </h1>
<ul>
  <li class="item"><a href="/a">First</a></li>
  <li class="item"><a href="/b">Second</a></li>
  <li class="item"><a>No link</a></li>
</ul>
</body></html>`

func TestExtract(t *testing.T) {
	got, err := Extract(extractDoc, []task.Extraction{
		{Name: "heading", CSS: "h1"},
		{Name: "items", CSS: "li.item"},
		{Name: "hrefs", CSS: "li a", Attr: "href"},
		{Name: "xpath_items", XPath: "//li[@class='item']/a"},
		{Name: "xpath_hrefs", XPath: "//li/a", Attr: "href"},
		{Name: "missing", CSS: "table"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Ayakkabı"}, got["heading"])
	assert.Equal(t, []string{"First", "Second", "No link"}, got["items"])
	assert.Equal(t, []string{"/a", "/b"}, got["hrefs"])
	assert.Equal(t, []string{"First", "Second", "No link"}, got["xpath_items"])
	assert.Equal(t, []string{"/a", "/b"}, got["xpath_hrefs"])
	assert.Empty(t, got["missing"])
	assert.Contains(t, got, "missing")
}

func TestExtractNone(t *testing.T) {
	got, err := Extract(extractDoc, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExtractBadXPath(t *testing.T) {
	_, err := Extract(extractDoc, []task.Extraction{{Name: "x", XPath: "//li[@"}})
	assert.Error(t, err)
}
