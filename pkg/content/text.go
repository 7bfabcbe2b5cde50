// Package content holds the text normalization shared by site adapters.
package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NonContent lists elements removed before any text is read. Headers that
// carry the article title are kept.
const NonContent = "script, style, noscript, nav, button, aside, footer, iframe, header:not(:has(h1))"

// Denylist matches boilerplate by case-insensitive substring.
type Denylist []string

// Noise is boilerplate found in article bodies.
var Noise = Denylist{
	"full size image",
	"view figure",
	"download",
	"cite this",
	"search for articles",
	"crossref",
	"pubmed",
	"google scholar",
}

// AuthorNoise is the toggle text inside author lists.
var AuthorNoise = Denylist{"view all", "show more", "show less"}

// Matches reports whether text contains any denylisted phrase.
func (d Denylist) Matches(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range d {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Strip removes non-content elements from the document in place.
func Strip(doc *goquery.Document) {
	doc.Find(NonContent).Remove()
}

// NormalizeWhitespace collapses runs of whitespace into single spaces.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NodeText returns the visible text of sel with whitespace collapsed. Block
// elements and line breaks separate words; inline markup does not.
func NodeText(sel *goquery.Selection) string {
	var b strings.Builder
	collectText(sel, &b)
	return NormalizeWhitespace(b.String())
}

func collectText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch {
		case name == "#text":
			b.WriteString(c.Text())
		case name == "#comment":
		case blockLevel[name]:
			b.WriteByte(' ')
			collectText(c, b)
			b.WriteByte(' ')
		default:
			collectText(c, b)
		}
	})
}

var blockLevel = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "figcaption": true, "figure": true, "tr": true, "td": true, "th": true,
	"blockquote": true, "dt": true, "dd": true,
}

// JoinParagraphs joins non-empty paragraphs with a blank line.
func JoinParagraphs(parts []string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// Subheading formats an in-section heading.
func Subheading(text string) string {
	return "\n## " + text + "\n"
}

// IsSubheading reports whether an element name is an h3-h6 heading.
func IsSubheading(nodeName string) bool {
	switch nodeName {
	case "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

// CutAt truncates s at the first case-insensitive occurrence of marker.
func CutAt(s, marker string) string {
	if i := strings.Index(strings.ToLower(s), strings.ToLower(marker)); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
