package sites

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"papers-crawler/pkg/content"
	"papers-crawler/pkg/domain"
)

const NatureBaseURL = "https://www.nature.com"

const (
	natureCard        = `article.c-card[itemtype="http://schema.org/ScholarlyArticle"]`
	natureCardMeta    = "div.c-meta"
	natureOpenAccess  = `span[data-test="open-access"]`
	natureCardDate    = "time[datetime]"
	natureCardLink    = "a.c-card__link"
	natureCardTitle   = "h3.c-card__title"
	natureTitle       = "h1.c-article-title"
	natureAuthors     = "ul.c-article-author-list li.c-article-author-list__item"
	naturePublished   = `time[itemprop="datePublished"]`
	natureDOI         = `meta[name="citation_doi"]`
	natureAbstract    = `section[aria-labelledby="Abs1"]`
	natureSection     = "section[data-title]"
	natureSectionBody = "div.c-article-section__content"
	natureFigure      = "div.c-article-section__figure"
	natureFigureDesc  = "div.c-article-section__figure-description"
	natureReferences  = `section[aria-labelledby="Bib1"] li.c-article-references__item`
	natureRefText     = "p.c-article-references__text"
)

// Nature reads nature.com journal listings and article pages.
type Nature struct {
	baseURL string
	now     func() time.Time
}

type NatureOption func(*Nature)

// WithBaseURL points the adapter at another host, for mirrors and tests.
func WithBaseURL(u string) NatureOption {
	return func(n *Nature) { n.baseURL = strings.TrimRight(u, "/") }
}

// WithClock fixes the extraction timestamp.
func WithClock(now func() time.Time) NatureOption {
	return func(n *Nature) { n.now = now }
}

func NewNature(opts ...NatureOption) *Nature {
	n := &Nature{baseURL: NatureBaseURL, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Nature) Name() string { return "nature" }

func (n *Nature) ListingURL(c domain.Coordinate) string {
	slug := url.PathEscape(c.Target)
	if c.Page <= 1 {
		return fmt.Sprintf("%s/%s/research-articles?year=%d", n.baseURL, slug, c.Year)
	}
	return fmt.Sprintf("%s/%s/research-articles?searchType=journalSearch&sort=PubDate&year=%d&page=%d",
		n.baseURL, slug, c.Year, c.Page)
}

func (n *Nature) ListCandidates(doc *goquery.Document) ([]domain.ArticleStub, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil listing document", ErrExtraction)
	}

	var stubs []domain.ArticleStub
	doc.Find(natureCard).Each(func(_ int, card *goquery.Selection) {
		link := card.Find(natureCardLink).First()
		href, _ := link.Attr("href")
		articleURL := normalizeURL(href, n.baseURL)
		if articleURL == "" {
			return
		}

		meta := card.Find(natureCardMeta)
		if meta.Length() == 0 {
			meta = card
		}
		rawDate, _ := meta.Find(natureCardDate).First().Attr("datetime")
		published, _ := ParseDate(rawDate)

		id := ExternalID(articleURL)
		title := content.NodeText(card.Find(natureCardTitle).First())
		if title == "" {
			title = content.NodeText(link)
		}
		if title == "" {
			title = "Article_" + id
		}

		stubs = append(stubs, domain.ArticleStub{
			ExternalID:  id,
			URL:         articleURL,
			Title:       title,
			PublishedOn: published,
			RawDate:     strings.TrimSpace(rawDate),
			Eligible:    meta.Find(natureOpenAccess).Length() > 0,
		})
	})

	return stubs, nil
}

func (n *Nature) Extract(doc *goquery.Document, sourceURL string) (*domain.ExtractedRecord, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil article document", ErrExtraction)
	}
	content.Strip(doc)

	now := n.now()
	fields := domain.NewFields()
	fields.Set(domain.FieldURL, sourceURL)
	fields.Set(domain.FieldExtractedAt, now.Format(time.RFC3339))

	if title := content.NodeText(doc.Find(natureTitle).First()); title != "" {
		fields.Set("title", title)
	}

	if authors := authorList(doc.Find(natureAuthors)); authors != "" {
		fields.Set("authors", authors)
	}

	if published, ok := doc.Find(naturePublished).First().Attr("datetime"); ok && published != "" {
		fields.Set("publication_date", published)
	}

	if doi, ok := doc.Find(natureDOI).First().Attr("content"); ok && doi != "" {
		fields.Set("doi", doi)
	}

	abstractBody := doc.Find(natureAbstract).First().Find(natureSectionBody).First()
	if abstract := paragraphs(abstractBody, "p"); abstract != "" {
		fields.Set("Abstract", abstract)
	}

	doc.Find(natureSection).Each(func(_ int, section *goquery.Selection) {
		name, _ := section.Attr("data-title")
		name = strings.TrimSpace(name)
		if name == "" || name == "Abstract" {
			return
		}
		if text := sectionText(section.Find(natureSectionBody).First()); text != "" {
			fields.Set(name, text)
		}
	})

	var figures []string
	doc.Find(natureFigure).Each(func(_ int, fig *goquery.Selection) {
		figures = append(figures, figureCaption(fig, natureFigureDesc))
	})
	if text := numbered(figures); text != "" {
		fields.Set("Figures", text)
	}

	var refs []string
	doc.Find(natureReferences).Each(func(_ int, li *goquery.Selection) {
		refs = append(refs, content.NodeText(li.Find(natureRefText).First()))
	})
	if text := numbered(refs); text != "" {
		fields.Set("References", text)
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
