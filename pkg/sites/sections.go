package sites

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"papers-crawler/pkg/content"
)

const blockElements = "p, h3, h4, h5, h6, li"

// sectionText renders the paragraphs, list items and subheadings under sel in
// document order, skipping boilerplate.
func sectionText(sel *goquery.Selection) string {
	var parts []string
	sel.Find(blockElements).Each(func(_ int, el *goquery.Selection) {
		text := content.NodeText(el)
		if text == "" || content.Noise.Matches(text) {
			return
		}
		if content.IsSubheading(goquery.NodeName(el)) {
			parts = append(parts, content.Subheading(text))
			return
		}
		parts = append(parts, text)
	})
	return content.JoinParagraphs(parts)
}

// paragraphs joins the text of every match of query under sel.
func paragraphs(sel *goquery.Selection, query string) string {
	var parts []string
	sel.Find(query).Each(func(_ int, p *goquery.Selection) {
		parts = append(parts, content.NodeText(p))
	})
	return content.JoinParagraphs(parts)
}

// numbered prefixes items with their 1-based position. Empty items are
// dropped but keep their number.
func numbered(items []string) string {
	var out []string
	for i, item := range items {
		if item == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%d. %s", i+1, item))
	}
	return strings.Join(out, "\n\n")
}

// authorList joins author names, skipping the list toggles.
func authorList(items *goquery.Selection) string {
	var names []string
	items.Each(func(_ int, li *goquery.Selection) {
		name := content.NodeText(li)
		if name == "" || content.AuthorNoise.Matches(name) {
			return
		}
		names = append(names, name)
	})
	return strings.Join(names, ", ")
}

// figureCaption combines a figure's caption and description.
func figureCaption(fig *goquery.Selection, descriptionQuery string) string {
	caption := content.NodeText(fig.Find("figcaption").First())

	description := ""
	if descriptionQuery != "" {
		description = content.NodeText(fig.Find(descriptionQuery).First())
		description = content.CutAt(description, "Full size image")
	}

	if description == "" || description == caption {
		return caption
	}
	if caption == "" {
		return description
	}
	return caption + "\n" + description
}
