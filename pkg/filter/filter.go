// Package filter decides which listing stubs may be fetched.
package filter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"papers-crawler/pkg/domain"
)

// Rejection reasons.
var (
	ErrNotEligible    = errors.New("not open access")
	ErrOutOfRange     = errors.New("publication year outside window")
	ErrUnparsableYear = errors.New("publication year unknown")
	ErrRootURL        = errors.New("not an article URL")
)

// Filter rejects a stub by returning one of the reason errors above, or nil
// to keep it.
type Filter interface {
	Check(stub domain.ArticleStub) error
}

// Apply runs filters in order and returns the first rejection.
func Apply(stub domain.ArticleStub, filters ...Filter) error {
	for _, f := range filters {
		if err := f.Check(stub); err != nil {
			return err
		}
	}
	return nil
}

// FilterStubs splits stubs into the kept ones and a count of rejections per
// reason.
func FilterStubs(stubs []domain.ArticleStub, filters ...Filter) ([]domain.ArticleStub, map[error]int) {
	kept := make([]domain.ArticleStub, 0, len(stubs))
	rejected := make(map[error]int)

	for _, s := range stubs {
		if err := Apply(s, filters...); err != nil {
			rejected[reason(err)]++
			continue
		}
		kept = append(kept, s)
	}
	return kept, rejected
}

func reason(err error) error {
	for _, r := range []error{ErrNotEligible, ErrOutOfRange, ErrUnparsableYear, ErrRootURL} {
		if errors.Is(err, r) {
			return r
		}
	}
	return err
}

// EligibleFilter keeps open access stubs only.
type EligibleFilter struct{}

func NewEligibleFilter() *EligibleFilter {
	return &EligibleFilter{}
}

func (f *EligibleFilter) Check(stub domain.ArticleStub) error {
	if !stub.Eligible {
		return ErrNotEligible
	}
	return nil
}

// YearRangeFilter keeps stubs published within [From, To].
type YearRangeFilter struct {
	From, To int
}

func NewYearRangeFilter(from, to int) *YearRangeFilter {
	return &YearRangeFilter{From: from, To: to}
}

func (f *YearRangeFilter) Check(stub domain.ArticleStub) error {
	year, ok := stub.Year()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnparsableYear, stub.RawDate)
	}
	if year < f.From || year > f.To {
		return fmt.Errorf("%w: %d not in %d-%d", ErrOutOfRange, year, f.From, f.To)
	}
	return nil
}

// BaseURLFilter filters out base/root URLs
type BaseURLFilter struct{}

// NewBaseURLFilter creates a new base URL filter
func NewBaseURLFilter() *BaseURLFilter {
	return &BaseURLFilter{}
}

// Check rejects stubs pointing at a site root.
func (f *BaseURLFilter) Check(stub domain.ArticleStub) error {
	parsed, err := url.Parse(stub.URL)
	if err != nil {
		// If we can't parse it, don't filter it out (let it fail later if needed)
		return nil
	}

	if strings.Trim(parsed.Path, "/") == "" {
		return fmt.Errorf("%w: %s", ErrRootURL, stub.URL)
	}
	return nil
}
