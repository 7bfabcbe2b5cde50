// Package replication backfills record sinks from the resume index and the
// JSON files it points to.
package replication

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"papers-crawler/pkg/db"
	"papers-crawler/pkg/domain"
	"papers-crawler/pkg/logger"
)

const (
	defaultBatchSize = 100
	defaultWorkers   = 5
)

// Source lists the records written by earlier runs.
type Source interface {
	Articles(ctx context.Context) ([]domain.Persisted, error)
}

// Target is a sink that can report what it already holds.
type Target interface {
	db.RecordSink
	db.Seeder
}

// Config wires the replication dependencies.
type Config struct {
	Source    Source
	Targets   []Target
	BatchSize int
	Workers   int
	Logger    *log.Logger
}

// Replicator copies indexed records into sinks that are missing them. Records
// whose file is gone are counted and skipped.
type Replicator struct {
	source    Source
	targets   []Target
	batchSize int
	workers   int
	logger    *log.Logger
}

// Report counts the outcome for one target.
type Report struct {
	Target     string
	Processed  int
	Replicated int
	Missing    int
}

func NewReplicator(cfg Config) (*Replicator, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("replication source is required")
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("at least one replication target is required")
	}
	r := &Replicator{
		source:    cfg.Source,
		targets:   cfg.Targets,
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
		logger:    logger.Component(cfg.Logger, "replication"),
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.workers <= 0 {
		r.workers = defaultWorkers
	}
	return r, nil
}

// Replicate backfills every target. It stops at the first sink error.
func (r *Replicator) Replicate(ctx context.Context) ([]Report, error) {
	articles, err := r.source.Articles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexed articles: %w", err)
	}
	r.logger.Info("loaded indexed articles", "count", len(articles))

	reports := make([]Report, 0, len(r.targets))
	for _, target := range r.targets {
		report, err := r.replicateTo(ctx, target, articles)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func (r *Replicator) replicateTo(ctx context.Context, target Target, articles []domain.Persisted) (Report, error) {
	report := Report{Target: fmt.Sprintf("%T", target)}
	l := r.logger.With("target", report.Target)

	known, err := target.KnownIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list ids in %s: %w", report.Target, err)
	}
	toCopy := filterNew(articles, known)
	report.Processed = len(articles)
	l.Info("replicating", "missing_in_target", len(toCopy), "already_present", len(articles)-len(toCopy))
	if len(toCopy) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for start := 0; start < len(toCopy); start += r.batchSize {
		batch := toCopy[start:min(start+r.batchSize, len(toCopy))]
		g.Go(func() error {
			copied, missing, err := r.copyBatch(gctx, target, batch)
			mu.Lock()
			report.Replicated += copied
			report.Missing += missing
			done := report.Replicated + report.Missing
			mu.Unlock()
			if err != nil {
				return err
			}
			l.Debug("batch done", "progress", fmt.Sprintf("%d/%d", done, len(toCopy)))
			return nil
		})
	}

	err = g.Wait()
	l.Info("replication complete", "replicated", report.Replicated, "missing_files", report.Missing)
	return report, err
}

func (r *Replicator) copyBatch(ctx context.Context, target Target, batch []domain.Persisted) (copied, missing int, err error) {
	for _, entry := range batch {
		if err := ctx.Err(); err != nil {
			return copied, missing, err
		}
		rec, err := LoadRecord(entry)
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("record file missing", "id", entry.ExternalID, "path", entry.Path)
			missing++
			continue
		}
		if err != nil {
			return copied, missing, err
		}
		if err := target.SaveRecord(ctx, entry, rec); err != nil {
			return copied, missing, fmt.Errorf("replicate %s: %w", entry.ExternalID, err)
		}
		copied++
	}
	return copied, missing, nil
}

func filterNew(all []domain.Persisted, known []string) []domain.Persisted {
	existing := make(map[string]bool, len(known))
	for _, id := range known {
		existing[id] = true
	}

	out := make([]domain.Persisted, 0, len(all))
	for _, a := range all {
		if a.ExternalID == "" || existing[a.ExternalID] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// LoadRecord reads a record file written by the aggregator.
func LoadRecord(entry domain.Persisted) (*domain.ExtractedRecord, error) {
	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return nil, err
	}
	fields := domain.NewFields()
	if err := fields.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", entry.Path, err)
	}

	rec := &domain.ExtractedRecord{
		ExternalID: entry.ExternalID,
		SourceURL:  fields.Text(domain.FieldURL),
		Fields:     fields,
	}
	if info, err := os.Stat(entry.Path); err == nil {
		rec.FetchedAt = info.ModTime()
	}
	return rec, nil
}
