package sites

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// getBaseURL extracts the base URL from the HTML document
// Tries multiple sources: <base> tag, canonical link, og:url meta tag
func getBaseURL(doc *goquery.Document) string {
	if baseHref, exists := doc.Find("base").First().Attr("href"); exists && baseHref != "" {
		return baseHref
	}

	for _, sel := range []struct{ query, attr string }{
		{"link[rel='canonical']", "href"},
		{"meta[property='og:url']", "content"},
	} {
		href, exists := doc.Find(sel.query).First().Attr(sel.attr)
		if !exists || href == "" {
			continue
		}
		if parsed, err := url.Parse(href); err == nil && parsed.IsAbs() {
			parsed.Path = ""
			parsed.RawQuery = ""
			parsed.Fragment = ""
			return parsed.String()
		}
	}

	return ""
}

// normalizeURL resolves href against baseURL and drops the fragment. It
// returns "" for anything that is not an http(s) link.
func normalizeURL(href, baseURL string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	parsed.Fragment = ""

	if !parsed.IsAbs() {
		if baseURL == "" {
			return ""
		}
		base, err := url.Parse(baseURL)
		if err != nil {
			return ""
		}
		parsed = base.ResolveReference(parsed)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}

// ExternalID derives a stable article id from the last path segment of its
// URL, e.g. /articles/s41586-024-0001-2 gives s41586-024-0001-2.
func ExternalID(articleURL string) string {
	parsed, err := url.Parse(articleURL)
	if err != nil {
		return articleURL
	}
	p := strings.TrimRight(parsed.Path, "/")
	if p == "" {
		return parsed.Host
	}
	return path.Base(p)
}

var leadingYear = regexp.MustCompile(`^\s*(\d{4})`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"02 January 2006",
	"2 January 2006",
	"January 2, 2006",
}

// ParseDate reads a listing date. When no layout fits, a leading four digit
// year is accepted and the date is pinned to January 1st of that year.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}

	if m := leadingYear.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		if year > 0 {
			return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), true
		}
	}

	return time.Time{}, false
}
