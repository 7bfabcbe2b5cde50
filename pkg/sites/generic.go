package sites

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"papers-crawler/pkg/config"
	"papers-crawler/pkg/content"
	"papers-crawler/pkg/domain"
)

// Generic is an adapter driven entirely by configured selectors. Listing URLs
// come from a pattern with {target}, {year} and {page} placeholders.
//
// When no section selector matches, the article body falls back to
// readability and is stored under "Text".
type Generic struct {
	cfg config.GenericConfig
	now func() time.Time
}

func NewGeneric(cfg config.GenericConfig) *Generic {
	return &Generic{cfg: cfg, now: time.Now}
}

func (g *Generic) Name() string {
	if g.cfg.Name != "" {
		return g.cfg.Name
	}
	return "generic"
}

func (g *Generic) ListingURL(c domain.Coordinate) string {
	r := strings.NewReplacer(
		"{target}", c.Target,
		"{year}", strconv.Itoa(c.Year),
		"{page}", strconv.Itoa(c.Page),
	)
	return r.Replace(g.cfg.ListingURLPattern)
}

func (g *Generic) ListCandidates(doc *goquery.Document) ([]domain.ArticleStub, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil listing document", ErrExtraction)
	}
	list := g.cfg.List
	if list.Item == "" {
		return nil, fmt.Errorf("%w: no item selector configured", ErrExtraction)
	}

	baseURL := g.cfg.BaseURL
	if baseURL == "" {
		baseURL = getBaseURL(doc)
	}

	var stubs []domain.ArticleStub
	doc.Find(list.Item).Each(func(_ int, item *goquery.Selection) {
		link := item
		if list.Link != "" {
			link = item.Find(list.Link).First()
		}
		href, _ := link.Attr("href")
		articleURL := normalizeURL(href, baseURL)
		if articleURL == "" {
			return
		}

		title := ""
		if list.Title != "" {
			title = content.NodeText(item.Find(list.Title).First())
		}
		if title == "" {
			title = content.NodeText(link)
		}
		id := ExternalID(articleURL)
		if title == "" {
			title = "Article_" + id
		}

		rawDate := ""
		if list.Date != "" {
			rawDate = selectValue(item.Find(list.Date).First(), list.DateAttr)
		}
		published, _ := ParseDate(rawDate)

		eligible := true
		if list.Eligible != "" {
			eligible = item.Find(list.Eligible).Length() > 0
		}

		stubs = append(stubs, domain.ArticleStub{
			ExternalID:  id,
			URL:         articleURL,
			Title:       title,
			PublishedOn: published,
			RawDate:     rawDate,
			Eligible:    eligible,
		})
	})

	return stubs, nil
}

func (g *Generic) Extract(doc *goquery.Document, sourceURL string) (*domain.ExtractedRecord, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil article document", ErrExtraction)
	}
	art := g.cfg.Article

	hasSections := art.Section != "" && doc.Find(art.Section).Length() > 0
	// Readability needs the page before stripping.
	var readable string
	if !hasSections {
		readable, _ = content.ReadableText(doc, sourceURL)
	}

	content.Strip(doc)

	now := g.now()
	fields := domain.NewFields()
	fields.Set(domain.FieldURL, sourceURL)
	fields.Set(domain.FieldExtractedAt, now.Format(time.RFC3339))

	if title := content.Title(doc, art.Title); title != "" {
		fields.Set("title", title)
	}
	if art.Authors != "" {
		if authors := authorList(doc.Find(art.Authors)); authors != "" {
			fields.Set("authors", authors)
		}
	}
	if art.Date != "" {
		if published := selectValue(doc.Find(art.Date).First(), art.DateAttr); published != "" {
			fields.Set("publication_date", published)
		}
	}
	if art.Abstract != "" {
		if abstract := paragraphs(doc.Find(art.Abstract).First(), "p"); abstract != "" {
			fields.Set("Abstract", abstract)
		}
	}

	if hasSections {
		doc.Find(art.Section).Each(func(i int, section *goquery.Selection) {
			name := ""
			if art.SectionTitle != "" {
				name, _ = section.Attr(art.SectionTitle)
				name = strings.TrimSpace(name)
			}
			if name == "" {
				name = content.NodeText(section.Find("h2").First())
			}
			if name == "" {
				name = fmt.Sprintf("Section %d", i+1)
			}
			if name == "Abstract" {
				return
			}
			if text := sectionText(section); text != "" {
				fields.Set(name, text)
			}
		})
	} else if readable != "" {
		fields.Set("Text", readable)
	}

	if art.Figure != "" {
		var figures []string
		doc.Find(art.Figure).Each(func(_ int, fig *goquery.Selection) {
			figures = append(figures, figureCaption(fig, ""))
		})
		if text := numbered(figures); text != "" {
			fields.Set("Figures", text)
		}
	}

	if art.Reference != "" {
		var refs []string
		doc.Find(art.Reference).Each(func(_ int, ref *goquery.Selection) {
			refs = append(refs, content.NodeText(ref))
		})
		if text := numbered(refs); text != "" {
			fields.Set("References", text)
		}
	}

	rec := &domain.ExtractedRecord{
		ExternalID: ExternalID(sourceURL),
		SourceURL:  sourceURL,
		FetchedAt:  now,
		Fields:     fields,
	}
	if !rec.HasContent() {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, sourceURL)
	}
	return rec, nil
}

// selectValue reads attr from sel, or its text when attr is empty.
func selectValue(sel *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := sel.Attr(attr)
		return strings.TrimSpace(v)
	}
	return content.NodeText(sel)
}
