// Package fetcher turns URLs into queryable documents.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrSessionClosed        = errors.New("session closed")
)

// Session is one browsing session. Sessions are not safe for concurrent use;
// each target gets its own.
type Session interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
	// DismissOverlays clicks away cookie banners on the current page. It
	// reports whether anything was clicked and never fails the crawl.
	DismissOverlays(ctx context.Context) bool
	Close() error
}

// Opener starts sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// FetchError is returned when a document could not be retrieved.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
