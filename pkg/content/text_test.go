package content

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestNodeTextCollapsesWhitespace(t *testing.T) {
	doc := parse(t, "<p>  Deep\n\t<i>sea</i>   vents <b> and\nlife</b> </p>")
	assert.Equal(t, "Deep sea vents and life", NodeText(doc.Find("p")))

	doc = parse(t, "<div><p>We measured <b>temperature</b>.</p><p>Then<br>pressure</p></div>")
	assert.Equal(t, "We measured temperature. Then pressure", NodeText(doc.Find("div")))
}

func TestDenylistIsCaseInsensitive(t *testing.T) {
	assert.True(t, Noise.Matches("Full Size Image"))
	assert.True(t, Noise.Matches("Google Scholar lookup"))
	assert.False(t, Noise.Matches("Results of the survey"))
	assert.True(t, AuthorNoise.Matches("Show more"))
}

func TestStripKeepsTitleHeader(t *testing.T) {
	doc := parse(t, `<html><body>
		<header class="site"><a>Home</a></header>
		<nav>menu</nav>
		<article><header><h1>Title</h1></header><p>Body</p><script>x()</script></article>
		<footer>foot</footer></body></html>`)

	Strip(doc)

	assert.Equal(t, 0, doc.Find("nav, footer, script, header.site").Length())
	assert.Equal(t, "Title", NodeText(doc.Find("h1")))
	assert.Equal(t, "Body", NodeText(doc.Find("p")))
}

func TestJoinParagraphsAndSubheading(t *testing.T) {
	got := JoinParagraphs([]string{"one", "", Subheading("Methods"), "two"})
	assert.Equal(t, "one\n\n\n## Methods\n\n\ntwo", got)
}

func TestCutAt(t *testing.T) {
	assert.Equal(t, "A cell diagram.", CutAt("A cell diagram. Full size image", "Full size image"))
	assert.Equal(t, "plain", CutAt("plain", "Full size image"))
}

func TestTitleFallbacks(t *testing.T) {
	doc := parse(t, `<html><head><title>Page</title><meta property="og:title" content=" OG  title "></head><body></body></html>`)
	assert.Equal(t, "OG title", Title(doc, "h1.c-article-title"))

	doc = parse(t, `<html><body><h1 class="c-article-title">Main</h1></body></html>`)
	assert.Equal(t, "Main", Title(doc, "h1.c-article-title"))
}
