// Package sites holds the per-publisher knowledge of the crawler: listing URL
// shapes, listing card selectors and article page extraction.
package sites

import (
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"papers-crawler/pkg/config"
	"papers-crawler/pkg/domain"
)

var (
	ErrExtraction  = errors.New("extraction failed")
	ErrNoContent   = errors.New("no content beyond bookkeeping fields")
	ErrUnknownSite = errors.New("unknown site")
)

// Adapter is implemented once per publisher.
type Adapter interface {
	Name() string
	// ListingURL builds the listing page address for a coordinate.
	ListingURL(c domain.Coordinate) string
	// ListCandidates returns every card on a listing page in document order,
	// eligible or not.
	ListCandidates(doc *goquery.Document) ([]domain.ArticleStub, error)
	// Extract pulls the structured record out of an article page. It may
	// modify doc.
	Extract(doc *goquery.Document, sourceURL string) (*domain.ExtractedRecord, error)
}

// Lookup returns the adapter configured for name.
func Lookup(name string, cfg *config.Config) (Adapter, error) {
	switch name {
	case "nature":
		return NewNature(), nil
	case "generic":
		if cfg == nil {
			return nil, fmt.Errorf("%w: generic site needs selectors", ErrUnknownSite)
		}
		return NewGeneric(cfg.Generic), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, name)
	}
}
