// Package fetchertest provides in-memory sessions for tests.
package fetchertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"papers-crawler/pkg/fetcher"
)

var ErrNotFound = errors.New("no page registered")

// Site serves fixed HTML per URL. It implements fetcher.Opener and counts
// opened and closed sessions.
type Site struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]error
	fetched  []string
	opened   int
	closed   int
	openErr  error
}

func NewSite() *Site {
	return &Site{pages: make(map[string]string), failures: make(map[string]error)}
}

// Page registers the HTML returned for url.
func (s *Site) Page(url, html string) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = html
	return s
}

// Fail makes every fetch of url fail with err.
func (s *Site) Fail(url string, err error) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[url] = err
	return s
}

// FailOpen makes Open fail.
func (s *Site) FailOpen(err error) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
	return s
}

func (s *Site) Open(ctx context.Context) (fetcher.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened++
	return &session{site: s}, nil
}

// Fetched returns every URL requested, in order.
func (s *Site) Fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

// Sessions returns how many sessions were opened and closed.
func (s *Site) Sessions() (opened, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed
}

type session struct {
	site   *Site
	closed bool
}

func (ss *session) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fetcher.FetchError{URL: url, Attempts: 1, Err: err}
	}

	s := ss.site
	s.mu.Lock()
	s.fetched = append(s.fetched, url)
	html, ok := s.pages[url]
	failure := s.failures[url]
	s.mu.Unlock()

	if ss.closed {
		return nil, &fetcher.FetchError{URL: url, Attempts: 1, Err: fetcher.ErrSessionClosed}
	}
	if failure != nil {
		return nil, &fetcher.FetchError{URL: url, Attempts: 1, Err: failure}
	}
	if !ok {
		return nil, &fetcher.FetchError{URL: url, Attempts: 1, Err: fmt.Errorf("%w: %s", ErrNotFound, url)}
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (ss *session) DismissOverlays(context.Context) bool { return false }

func (ss *session) Close() error {
	if ss.closed {
		return nil
	}
	ss.closed = true
	ss.site.mu.Lock()
	ss.site.closed++
	ss.site.mu.Unlock()
	return nil
}
