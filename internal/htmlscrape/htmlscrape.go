// Package htmlscrape extracts plain text out of HTML documents via CSS
// selectors, generalized from a narrower attribute-only CSS parser into a
// text-content extractor suited to scraping "table of proxies" pages instead
// of attribute-bearing markup.
package htmlscrape

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText parses html and returns the trimmed text content of every
// element matched by selector, in document order.
func ExtractText(html string, selector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("htmlscrape: parse: %w", err)
	}

	var results []string
	doc.Find(selector).Each(func(_ int, item *goquery.Selection) {
		text := strings.TrimSpace(item.Text())
		if text != "" {
			results = append(results, text)
		}
	})
	return results, nil
}

// ExtractAttr parses html and returns the value of attribute for every
// element matched by selector that carries it, in document order.
func ExtractAttr(html string, selector, attribute string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("htmlscrape: parse: %w", err)
	}

	var results []string
	doc.Find(selector).Each(func(_ int, item *goquery.Selection) {
		if val, ok := item.Attr(attribute); ok {
			results = append(results, val)
		}
	})
	return results, nil
}
