// Package pipeline wires a crawl run together: run state, frontier, target
// workers, output and storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"papers-crawler/pkg/aggregator"
	"papers-crawler/pkg/config"
	"papers-crawler/pkg/db"
	"papers-crawler/pkg/fetcher"
	"papers-crawler/pkg/filter"
	"papers-crawler/pkg/frontier"
	"papers-crawler/pkg/logger"
	"papers-crawler/pkg/progress"
	"papers-crawler/pkg/sites"
	"papers-crawler/pkg/tracker"
	"papers-crawler/pkg/worker"
)

var ErrNilConfig = errors.New("pipeline needs a config")

// Options configures a Pipeline. Only Config is required.
type Options struct {
	Config *config.Config
	// Opener defaults to BuildOpener(Config).
	Opener fetcher.Opener
	// Adapter defaults to the adapter named by crawl.site.
	Adapter sites.Adapter
	// Index records runs and feeds resume.
	Index   *db.Index
	Sinks   []db.RecordSink
	Seeders []db.Seeder
	OnFile  progress.FileFunc
	OnTotal progress.TotalFunc
	Logger  *log.Logger
	Now     func() time.Time
}

// Result is handed to the caller once the run ends.
type Result struct {
	RunID string
	// Paths and Titles list the persisted records in commit order.
	Paths   []string
	Titles  []string
	Summary aggregator.Summary
	Targets []worker.TargetReport
	// Dropped counts progress notifications discarded by a slow consumer.
	Dropped int64
}

type Pipeline struct {
	cfg     *config.Config
	opener  fetcher.Opener
	adapter sites.Adapter
	index   *db.Index
	sinks   []db.RecordSink
	seeders []db.Seeder
	onFile  progress.FileFunc
	onTotal progress.TotalFunc
	logger  *log.Logger
	now     func() time.Time
}

// New validates the config and resolves defaults.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.ResolveTargets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l := logger.OrDiscard(opts.Logger)

	adapter := opts.Adapter
	if adapter == nil {
		a, err := sites.Lookup(cfg.Crawl.Site, cfg)
		if err != nil {
			return nil, err
		}
		adapter = a
	}

	opener := opts.Opener
	if opener == nil {
		opener = BuildOpener(cfg, l)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Pipeline{
		cfg:     cfg,
		opener:  opener,
		adapter: adapter,
		index:   opts.Index,
		sinks:   opts.Sinks,
		seeders: opts.Seeders,
		onFile:  opts.OnFile,
		onTotal: opts.OnTotal,
		logger:  l,
		now:     now,
	}, nil
}

// Run crawls every target. The result is returned whenever the run got past
// setup, including after cancellation, in which case the error is ctx.Err().
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	crawl := p.cfg.Crawl
	// Bookkeeping after the crawl must survive cancellation.
	bg := context.WithoutCancel(ctx)

	runID, err := p.startRun(ctx)
	if err != nil {
		return nil, err
	}
	l := p.logger.With("run", runID)
	l.Info("starting crawl", "site", p.adapter.Name(), "targets", len(crawl.Targets),
		"years", fmt.Sprintf("%d-%d", crawl.YearFrom, crawl.YearTo), "limit", crawl.Limit, "workers", crawl.Workers)

	filters := []filter.Filter{
		filter.NewEligibleFilter(),
		filter.NewYearRangeFilter(crawl.YearFrom, crawl.YearTo),
		filter.NewBaseURLFilter(),
	}
	tr := tracker.New(crawl.Limit, filters...)
	if crawl.Resume {
		p.seed(ctx, tr, l)
	}

	dispatcher := progress.NewDispatcher(p.onFile, p.onTotal, 0, l)
	defer dispatcher.Close()

	sinks := p.sinks
	if p.index != nil {
		sinks = append([]db.RecordSink{p.index}, sinks...)
	}

	agg, err := aggregator.New(tr, aggregator.Options{
		OutRoot:  crawl.OutRoot,
		Limit:    crawl.Limit,
		Sinks:    sinks,
		Progress: dispatcher,
		Logger:   l,
		Now:      p.now,
	})
	if err != nil {
		return nil, err
	}

	fr := frontier.New(crawl.Targets, crawl.YearFrom, crawl.YearTo, tr,
		frontier.WithMaxListingErrors(crawl.MaxListingErrors))

	w, err := worker.NewWorker(worker.Config{
		Opener:             p.opener,
		Adapter:            p.adapter,
		Frontier:           fr,
		Tracker:            tr,
		Output:             agg,
		Filters:            filters,
		Pacing:             crawl.Pacing(),
		MaxArticleFailures: crawl.MaxArticleFailures,
		Logger:             l,
	})
	if err != nil {
		return nil, err
	}

	reports := worker.NewManager(w, crawl.Workers, tr, l).Run(ctx, fr.Targets())

	summary := agg.Finalize(bg)
	if summary.Err != nil {
		l.Warn("run artifacts incomplete", "err", summary.Err)
	}
	dispatcher.Close()

	if p.index != nil {
		if err := p.index.FinishRun(bg, summary.Count, summary.ManifestPath, summary.ArchivePath); err != nil {
			l.Warn("failed to record run", "err", err)
		}
	}

	res := &Result{
		RunID:   runID,
		Summary: summary,
		Targets: reports,
		Dropped: dispatcher.Dropped(),
	}
	for _, entry := range tr.Persisted() {
		res.Paths = append(res.Paths, entry.Path)
		res.Titles = append(res.Titles, entry.Title)
	}

	l.Info("crawl finished", "persisted", len(res.Paths), "manifest", summary.ManifestPath,
		"archive", summary.ArchivePath, "archive_mb", fmt.Sprintf("%.1f", float64(summary.ArchiveSize)/(1024*1024)))

	return res, ctx.Err()
}

func (p *Pipeline) startRun(ctx context.Context) (string, error) {
	if p.index == nil {
		return uuid.NewString(), nil
	}
	runID, err := p.index.StartRun(ctx)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return runID, nil
}

// seed preloads ids persisted by earlier runs. A store that cannot be read
// only costs duplicate work, so failures are logged.
func (p *Pipeline) seed(ctx context.Context, tr *tracker.Tracker, l *log.Logger) {
	seeders := p.seeders
	if p.index != nil {
		seeders = append([]db.Seeder{p.index}, seeders...)
	}
	for _, s := range seeders {
		ids, err := s.KnownIDs(ctx)
		if err != nil {
			l.Warn("failed to load known ids", "store", fmt.Sprintf("%T", s), "err", err)
			continue
		}
		tr.Seed(ids)
		l.Info("resuming", "store", fmt.Sprintf("%T", s), "known", len(ids))
	}
}
