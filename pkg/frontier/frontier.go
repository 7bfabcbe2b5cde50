// Package frontier generates the listing coordinates to visit. Each target is
// walked from the newest year to the oldest, page by page, until a page comes
// back empty.
package frontier

import (
	"iter"
	"sync"

	"papers-crawler/pkg/domain"
)

// Limiter reports when the run has collected enough records.
type Limiter interface {
	LimitReached() bool
}

// DefaultMaxListingErrors is how many listing failures in a row abandon a year.
const DefaultMaxListingErrors = 3

// Frontier holds the crawl window shared by all target cursors.
type Frontier struct {
	targets          []string
	yearFrom, yearTo int
	limiter          Limiter
	maxListingErrors int
	maxPages         int
}

type Option func(*Frontier)

// WithMaxListingErrors sets how many consecutive listing failures end a year.
// Values below 1 keep DefaultMaxListingErrors.
func WithMaxListingErrors(n int) Option {
	return func(f *Frontier) {
		if n > 0 {
			f.maxListingErrors = n
		}
	}
}

// WithMaxPages caps the pages visited per year. Zero means no cap.
func WithMaxPages(n int) Option {
	return func(f *Frontier) { f.maxPages = n }
}

// New creates a frontier over targets for years yearTo down to yearFrom.
// limiter may be nil.
func New(targets []string, yearFrom, yearTo int, limiter Limiter, opts ...Option) *Frontier {
	f := &Frontier{
		targets:          append([]string(nil), targets...),
		yearFrom:         yearFrom,
		yearTo:           yearTo,
		limiter:          limiter,
		maxListingErrors: DefaultMaxListingErrors,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Targets returns the targets in their configured order.
func (f *Frontier) Targets() []string {
	return append([]string(nil), f.targets...)
}

func (f *Frontier) limitReached() bool {
	return f.limiter != nil && f.limiter.LimitReached()
}

// ForTarget returns a fresh cursor positioned at the newest year, page 1.
func (f *Frontier) ForTarget(target string) *Cursor {
	return &Cursor{
		f:      f,
		target: target,
		year:   f.yearTo,
		page:   1,
	}
}

// Cursor walks the coordinates of one target. After each coordinate returned
// by Next the caller reports the outcome with Observe or ObserveError. A
// coordinate left unreported is treated as a non-empty page.
type Cursor struct {
	f      *Frontier
	target string

	mu        sync.Mutex
	year      int
	page      int
	pending   *domain.Coordinate
	errStreak int
	done      bool
}

// Next returns the next coordinate, or false once the window is exhausted or
// the run limit has been reached.
func (c *Cursor) Next() (domain.Coordinate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		c.advancePage()
	}
	if c.done || c.year < c.f.yearFrom || c.f.limitReached() {
		c.done = true
		return domain.Coordinate{}, false
	}

	coord := domain.Coordinate{Target: c.target, Year: c.year, Page: c.page}
	c.pending = &coord
	return coord, true
}

// Observe reports how many candidate stubs the listing at coord held. Zero
// ends the year.
func (c *Cursor) Observe(coord domain.Coordinate, candidates int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isPending(coord) {
		return
	}
	c.errStreak = 0
	if candidates == 0 {
		c.advanceYear()
		return
	}
	c.advancePage()
}

// ObserveError reports that the listing at coord could not be fetched. The
// cursor moves on to the next page unless too many failures piled up.
func (c *Cursor) ObserveError(coord domain.Coordinate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isPending(coord) {
		return
	}
	c.errStreak++
	if c.errStreak >= c.f.maxListingErrors {
		c.advanceYear()
		return
	}
	c.advancePage()
}

// Seq yields coordinates until Next returns false. Callers report each
// coordinate inside the loop body.
func (c *Cursor) Seq() iter.Seq[domain.Coordinate] {
	return func(yield func(domain.Coordinate) bool) {
		for {
			coord, ok := c.Next()
			if !ok || !yield(coord) {
				return
			}
		}
	}
}

func (c *Cursor) isPending(coord domain.Coordinate) bool {
	return c.pending != nil && *c.pending == coord
}

func (c *Cursor) advancePage() {
	c.pending = nil
	c.page++
	if c.f.maxPages > 0 && c.page > c.f.maxPages {
		c.advanceYear()
	}
}

func (c *Cursor) advanceYear() {
	c.pending = nil
	c.errStreak = 0
	c.year--
	c.page = 1
}
