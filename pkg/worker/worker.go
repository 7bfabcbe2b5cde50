package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"papers-crawler/pkg/domain"
	"papers-crawler/pkg/fetcher"
	"papers-crawler/pkg/filter"
	"papers-crawler/pkg/frontier"
	"papers-crawler/pkg/logger"
	"papers-crawler/pkg/sites"
	"papers-crawler/pkg/tracker"
)

var (
	ErrSessionOpen    = errors.New("failed to open document session")
	ErrFailureBudget  = errors.New("article failure budget exhausted")
	ErrTargetPanic    = errors.New("target worker panicked")
	ErrMissingAdapter = errors.New("worker needs an adapter, opener, frontier, tracker and output")
)

// Metadata keys appended to every record after extraction.
const (
	FieldJournal    = "journal"
	FieldOpenAccess = "open_access"
	FieldYear       = "year"
	FieldDate       = "date"
)

// Admitter decides which stubs get processed.
type Admitter interface {
	TryAccept(stub domain.ArticleStub) (tracker.Ticket, error)
	Release(ticket tracker.Ticket)
	LimitReached() bool
}

// Output takes ownership of extracted records.
type Output interface {
	Persist(ctx context.Context, target string, stub domain.ArticleStub, rec *domain.ExtractedRecord, ticket tracker.Ticket) (string, error)
}

// scanReporter is implemented by outputs that also surface listing progress.
type scanReporter interface {
	Scanning(status string)
}

// Config holds the collaborators of a Worker.
type Config struct {
	Opener   fetcher.Opener
	Adapter  sites.Adapter
	Frontier *frontier.Frontier
	Tracker  Admitter
	Output   Output
	// Filters only feed the per-page debug summary; admission is decided by
	// the tracker.
	Filters []filter.Filter
	// Pacing is slept after every attempted article.
	Pacing time.Duration
	// MaxArticleFailures aborts a target after that many failed articles.
	// Zero means unlimited.
	MaxArticleFailures int
	Logger             *log.Logger
}

// Worker processes one target at a time: listing pages in order, candidates
// in document order.
type Worker struct {
	opener      fetcher.Opener
	adapter     sites.Adapter
	frontier    *frontier.Frontier
	tracker     Admitter
	output      Output
	filters     []filter.Filter
	pacing      time.Duration
	maxFailures int
	logger      *log.Logger
}

func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Opener == nil || cfg.Adapter == nil || cfg.Frontier == nil || cfg.Tracker == nil || cfg.Output == nil {
		return nil, ErrMissingAdapter
	}
	return &Worker{
		opener:      cfg.Opener,
		adapter:     cfg.Adapter,
		frontier:    cfg.Frontier,
		tracker:     cfg.Tracker,
		output:      cfg.Output,
		filters:     cfg.Filters,
		pacing:      cfg.Pacing,
		maxFailures: cfg.MaxArticleFailures,
		logger:      logger.Component(cfg.Logger, "worker"),
	}, nil
}

// TargetReport counts what happened while processing one target.
type TargetReport struct {
	Target        string
	Pages         int
	ListingErrors int
	Candidates    int
	Attempted     int
	Saved         int
	Failed        int
	Skipped       bool
	Err           error
}

// ProcessTarget walks every coordinate of target. Listing and article
// failures are logged and skipped; the returned error is reserved for
// target-level failures and cancellation. The document session is closed on
// every return path.
func (w *Worker) ProcessTarget(ctx context.Context, target string) (TargetReport, error) {
	report := TargetReport{Target: target}
	l := w.logger.With("target", target)

	session, err := w.opener.Open(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrSessionOpen, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			l.Warn("failed to close session", "err", err)
		}
	}()

	cursor := w.frontier.ForTarget(target)
	dismissed := false

	for coord := range cursor.Seq() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		listingURL := w.adapter.ListingURL(coord)
		l.Debug("fetching listing", "year", coord.Year, "page", coord.Page, "url", listingURL)
		w.scanning(fmt.Sprintf("%s: year %d, page %d", target, coord.Year, coord.Page))

		doc, err := session.Fetch(ctx, listingURL)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.ListingErrors++
			l.Warn("failed to fetch listing", "year", coord.Year, "page", coord.Page, "err", err)
			cursor.ObserveError(coord)
			continue
		}

		if !dismissed {
			dismissed = true
			if session.DismissOverlays(ctx) {
				l.Debug("dismissed consent overlay")
			}
		}

		stubs, err := w.adapter.ListCandidates(doc)
		if err != nil {
			report.ListingErrors++
			l.Warn("failed to read listing", "year", coord.Year, "page", coord.Page, "err", err)
			cursor.ObserveError(coord)
			continue
		}

		cursor.Observe(coord, len(stubs))
		report.Pages++
		report.Candidates += len(stubs)

		kept, rejected := filter.FilterStubs(stubs, w.filters...)
		l.Info("listing page", "year", coord.Year, "page", coord.Page, "candidates", len(stubs), "kept", len(kept))
		for reason, n := range rejected {
			l.Debug("filtered stubs", "reason", reason, "count", n)
		}

		if err := w.processStubs(ctx, session, target, stubs, &report, l); err != nil {
			return report, err
		}
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	l.Info("target finished", "pages", report.Pages, "saved", report.Saved, "failed", report.Failed)
	return report, nil
}

func (w *Worker) processStubs(ctx context.Context, session fetcher.Session, target string, stubs []domain.ArticleStub, report *TargetReport, l *log.Logger) error {
	for _, stub := range stubs {
		if err := ctx.Err(); err != nil {
			return err
		}

		ticket, err := w.tracker.TryAccept(stub)
		if errors.Is(err, tracker.ErrLimitReached) {
			l.Debug("limit reached, leaving the rest of the page")
			return nil
		}
		if err != nil {
			l.Debug("skipping stub", "id", stub.ExternalID, "reason", err)
			continue
		}

		report.Attempted++
		path, err := w.processArticle(ctx, session, target, stub, ticket)
		if err != nil {
			w.tracker.Release(ticket)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Failed++
			l.Warn("failed to process article", "id", stub.ExternalID, "url", stub.URL, "err", err)
			if w.maxFailures > 0 && report.Failed >= w.maxFailures {
				return fmt.Errorf("%w: %d failures", ErrFailureBudget, report.Failed)
			}
		} else {
			report.Saved++
			l.Debug("article saved", "id", stub.ExternalID, "path", path)
		}

		if err := sleep(ctx, w.pacing); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) processArticle(ctx context.Context, session fetcher.Session, target string, stub domain.ArticleStub, ticket tracker.Ticket) (string, error) {
	doc, err := session.Fetch(ctx, stub.URL)
	if err != nil {
		return "", err
	}

	rec, err := w.adapter.Extract(doc, stub.URL)
	if err != nil {
		return "", err
	}
	if !rec.HasContent() {
		return "", sites.ErrNoContent
	}
	if rec.ExternalID == "" {
		rec.ExternalID = stub.ExternalID
	}
	annotate(rec, target, stub)

	return w.output.Persist(ctx, target, stub, rec, ticket)
}

func annotate(rec *domain.ExtractedRecord, target string, stub domain.ArticleStub) {
	rec.Fields.Set(FieldJournal, target)
	rec.Fields.Set(FieldOpenAccess, stub.Eligible)
	if year, ok := stub.Year(); ok {
		rec.Fields.Set(FieldYear, year)
	}
	rec.Fields.Set(FieldDate, stub.RawDate)
}

func (w *Worker) scanning(status string) {
	if s, ok := w.output.(scanReporter); ok {
		s.Scanning(status)
	}
}

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
