// Package catalog discovers the journals a publisher lists on its site index
// and caches them on disk.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"

	"papers-crawler/pkg/fetcher"
	"papers-crawler/pkg/logger"
)

const (
	SiteIndexURL = "https://www.nature.com/siteindex"
	cacheFile    = "journals_nature.json"
)

var ErrEmptyCatalog = errors.New("no journals found on the site index")

// Journal is one entry of the site index.
type Journal struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Catalog loads journals from the cache or, when missing or forced, from the
// site index.
type Catalog struct {
	opener   fetcher.Opener
	cacheDir string
	indexURL string
	logger   *log.Logger
}

type Option func(*Catalog)

// WithIndexURL overrides the site index address.
func WithIndexURL(u string) Option {
	return func(c *Catalog) { c.indexURL = u }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Catalog) { c.logger = logger.Component(l, "catalog") }
}

func New(opener fetcher.Opener, cacheDir string, opts ...Option) *Catalog {
	c := &Catalog{
		opener:   opener,
		cacheDir: cacheDir,
		indexURL: SiteIndexURL,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CachePath is where the journal list is stored.
func (c *Catalog) CachePath() string {
	return filepath.Join(c.cacheDir, cacheFile)
}

// Journals returns the cached list unless forceRefresh is set or the cache
// is missing or unreadable. A failed cache write is logged only.
func (c *Catalog) Journals(ctx context.Context, forceRefresh bool) ([]Journal, error) {
	if !forceRefresh {
		if journals, err := c.readCache(); err == nil {
			c.logger.Info("loaded journals from cache", "count", len(journals), "path", c.CachePath())
			return journals, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("ignoring unreadable cache", "err", err)
		}
	}

	journals, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.writeCache(journals); err != nil {
		c.logger.Warn("failed to cache journals", "err", err)
	} else {
		c.logger.Info("cached journals", "count", len(journals), "path", c.CachePath())
	}
	return journals, nil
}

func (c *Catalog) fetch(ctx context.Context) ([]Journal, error) {
	session, err := c.opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	doc, err := session.Fetch(ctx, c.indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetch site index: %w", err)
	}

	journals := ParseSiteIndex(doc)
	if len(journals) == 0 {
		return nil, ErrEmptyCatalog
	}
	c.logger.Info("found journals", "count", len(journals))
	return journals, nil
}

var (
	sectionID = regexp.MustCompile(`^journals-[A-Z]$`)
	slugRe    = regexp.MustCompile(`/([a-z0-9-]+)/?$`)
)

// ParseSiteIndex reads the A-Z journal sections. Links without a name or a
// recognizable slug are skipped; a repeated slug keeps its first name.
func ParseSiteIndex(doc *goquery.Document) []Journal {
	var journals []Journal
	seen := make(map[string]bool)

	doc.Find("div[id^='journals-']").Each(func(_ int, section *goquery.Selection) {
		if !sectionID.MatchString(section.AttrOr("id", "")) {
			return
		}
		section.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			name := strings.Join(strings.Fields(a.Text()), " ")
			m := slugRe.FindStringSubmatch(a.AttrOr("href", ""))
			if m == nil || name == "" || seen[m[1]] {
				return
			}
			seen[m[1]] = true
			journals = append(journals, Journal{Slug: m[1], Name: name})
		})
	})
	return journals
}

func (c *Catalog) readCache() ([]Journal, error) {
	data, err := os.ReadFile(c.CachePath())
	if err != nil {
		return nil, err
	}
	var journals []Journal
	if err := json.Unmarshal(data, &journals); err != nil {
		return nil, err
	}
	if len(journals) == 0 {
		return nil, ErrEmptyCatalog
	}
	return journals, nil
}

func (c *Catalog) writeCache(journals []Journal) error {
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(journals); err != nil {
		return err
	}
	return os.WriteFile(c.CachePath(), buf.Bytes(), 0o644)
}

// Slugs returns the slugs of journals in order.
func Slugs(journals []Journal) []string {
	out := make([]string, len(journals))
	for i, j := range journals {
		out[i] = j.Slug
	}
	return out
}
