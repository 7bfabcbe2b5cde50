package domain

import (
	"fmt"
	"time"
)

// Coordinate identifies one listing page of a target journal.
type Coordinate struct {
	Target string
	Year   int
	Page   int
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%s/%d/p%d", c.Target, c.Year, c.Page)
}

// ArticleStub is a listing entry discovered on a listing page, before the
// article itself has been fetched.
type ArticleStub struct {
	ExternalID  string
	URL         string
	Title       string
	PublishedOn time.Time
	// RawDate is the date string as printed on the listing.
	RawDate  string
	Eligible bool
}

// Year returns the publication year, or false if no date could be parsed.
func (s ArticleStub) Year() (int, bool) {
	if s.PublishedOn.IsZero() {
		return 0, false
	}
	return s.PublishedOn.Year(), true
}

// ExtractedRecord is the structured text pulled out of an article page.
type ExtractedRecord struct {
	ExternalID string
	SourceURL  string
	FetchedAt  time.Time
	Fields     *Fields
}

// Bookkeeping keys do not count as content.
const (
	FieldURL         = "url"
	FieldExtractedAt = "extracted_at"
)

// HasContent reports whether the record carries anything beyond bookkeeping.
func (r *ExtractedRecord) HasContent() bool {
	if r == nil || r.Fields == nil {
		return false
	}
	for _, k := range r.Fields.Keys() {
		if k != FieldURL && k != FieldExtractedAt {
			return true
		}
	}
	return false
}

// Persisted describes one record that has been written to disk.
type Persisted struct {
	ExternalID  string
	Target      string
	Title       string
	PublishedOn string
	Path        string
}
