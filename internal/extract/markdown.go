package extract

import (
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// blockSelector lists the content-bearing block kinds collected from the
// body container, in document order.
const blockSelector = "p, h2, h3, pre, ul, ol, div"

// newMarkdownConverter builds the HTML-to-markdown converter used for item
// bodies: links keep their text and target, images are dropped outright.
func newMarkdownConverter() *md.Converter {
	conv := md.NewConverter("", true, nil)
	conv.Remove("img")
	return conv
}

// collectBlocks serializes every content block under the container and
// returns the markup fragments in document order.
func collectBlocks(container *goquery.Selection) []string {
	var parts []string
	container.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		markup, err := goquery.OuterHtml(sel)
		if err != nil {
			return
		}
		parts = append(parts, markup)
	})
	return parts
}
