package content

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// ReadableText extracts the main text of a page with readability. It is the
// fallback for pages whose structure no selector recognizes.
func ReadableText(doc *goquery.Document, pageURL string) (string, error) {
	htmlContent, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}

	var base *url.URL
	if pageURL != "" {
		base, _ = url.Parse(pageURL)
	}

	article, err := readability.FromReader(strings.NewReader(htmlContent), base)
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}

	return strings.TrimSpace(article.TextContent), nil
}

// Title finds the page title, trying the given selector first and then the
// usual fallbacks.
func Title(doc *goquery.Document, selector string) string {
	if selector != "" {
		if title := NodeText(doc.Find(selector).First()); title != "" {
			return title
		}
	}

	if title := NodeText(doc.Find("h1").First()); title != "" {
		return title
	}

	if title, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && strings.TrimSpace(title) != "" {
		return NormalizeWhitespace(title)
	}

	if title, exists := doc.Find("meta[name='citation_title']").Attr("content"); exists && strings.TrimSpace(title) != "" {
		return NormalizeWhitespace(title)
	}

	return NodeText(doc.Find("title").First())
}
