// Package aggregator writes extracted records to disk, commits them to the
// run state, reports progress, and produces the end-of-run manifest and
// archive.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"papers-crawler/pkg/db"
	"papers-crawler/pkg/domain"
	"papers-crawler/pkg/logger"
	"papers-crawler/pkg/progress"
	"papers-crawler/pkg/tracker"
)

var (
	ErrManifest = errors.New("manifest not written")
	ErrArchive  = errors.New("archive not written")
)

// PersistError reports a failed record write.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Committer is the part of the run state the aggregator updates.
type Committer interface {
	Commit(ticket tracker.Ticket, entry domain.Persisted) error
	Persisted() []domain.Persisted
	Accepted() int
}

// Options configures an Aggregator.
type Options struct {
	OutRoot string
	// Limit is reported as the known total in progress events.
	Limit    int
	Sinks    []db.RecordSink
	Progress *progress.Dispatcher
	Logger   *log.Logger
	Now      func() time.Time
}

// Aggregator is safe for concurrent use by target workers.
type Aggregator struct {
	outRoot  string
	limit    int
	state    Committer
	sinks    []db.RecordSink
	progress *progress.Dispatcher
	logger   *log.Logger
	now      func() time.Time
	started  time.Time

	mu sync.Mutex
}

func New(state Committer, opts Options) (*Aggregator, error) {
	if opts.OutRoot == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if err := os.MkdirAll(opts.OutRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		outRoot:  opts.OutRoot,
		limit:    opts.Limit,
		state:    state,
		sinks:    opts.Sinks,
		progress: opts.Progress,
		logger:   logger.Component(opts.Logger, "aggregator"),
		now:      now,
		started:  now(),
	}, nil
}

// OutRoot returns the output directory.
func (a *Aggregator) OutRoot() string { return a.outRoot }

// Persist writes rec under <out>/<target>/ and commits ticket. An existing
// file with the same name is overwritten. The caller keeps ownership of the
// ticket when an error is returned.
func (a *Aggregator) Persist(ctx context.Context, target string, stub domain.ArticleStub, rec *domain.ExtractedRecord, ticket tracker.Ticket) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec == nil || rec.Fields == nil {
		return "", &PersistError{Err: errors.New("empty record")}
	}

	year, _ := stub.Year()
	name := FileName(stub.Title, year)
	dir := filepath.Join(a.outRoot, target)
	path := filepath.Join(dir, name)

	data, err := encodeRecord(rec.Fields)
	if err != nil {
		return "", &PersistError{Path: path, Err: err}
	}

	entry := domain.Persisted{
		ExternalID:  stub.ExternalID,
		Target:      target,
		Title:       stub.Title,
		PublishedOn: stub.RawDate,
		Path:        path,
	}

	a.mu.Lock()
	err = a.write(dir, path, data)
	if err == nil {
		if err = a.state.Commit(ticket, entry); err != nil {
			// Only committed records may stay on disk.
			if rmErr := os.Remove(path); rmErr != nil {
				a.logger.Warn("failed to remove uncommitted record", "file", path, "err", rmErr)
			}
		}
	}
	current := a.state.Accepted()
	a.mu.Unlock()
	if err != nil {
		return "", &PersistError{Path: path, Err: err}
	}

	a.logger.Info("saved article", "target", target, "file", name)
	a.mirror(ctx, entry, rec)

	a.progress.File(name, path)
	a.progress.Total(progress.Event{
		Current: current,
		Total:   a.limit,
		Status:  fmt.Sprintf("%s: %s", target, stub.Title),
		Size:    int64(len(data)),
		Rate:    a.rate(current),
		Stage:   progress.StageSaving,
	})

	return path, nil
}

// encodeRecord indents fields and leaves <, > and & unescaped in article text.
func encodeRecord(fields *domain.Fields) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fields); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (a *Aggregator) write(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	// Write then rename so a crash never leaves a truncated record behind.
	tmp, err := os.CreateTemp(dir, ".record-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (a *Aggregator) mirror(ctx context.Context, entry domain.Persisted, rec *domain.ExtractedRecord) {
	for _, sink := range a.sinks {
		if err := sink.SaveRecord(ctx, entry, rec); err != nil {
			a.logger.Warn("record sink failed", "id", entry.ExternalID, "sink", fmt.Sprintf("%T", sink), "err", err)
		}
	}
}

func (a *Aggregator) rate(current int) float64 {
	elapsed := a.now().Sub(a.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current) / elapsed
}

// Scanning reports listing progress between saves.
func (a *Aggregator) Scanning(status string) {
	current := a.state.Accepted()
	a.progress.Total(progress.Event{
		Current: current,
		Total:   a.limit,
		Status:  status,
		Rate:    a.rate(current),
		Stage:   progress.StageScanning,
	})
}

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)

const maxTitleRunes = 100

// FileName builds "<title>_<year>.json" from the first 100 runes of the title
// with characters unsafe in file names replaced by underscores.
func FileName(title string, year int) string {
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		runes = runes[:maxTitleRunes]
	}
	safe := unsafeChars.ReplaceAllString(string(runes), "_")
	safe = controlChars.ReplaceAllString(safe, " ")
	if safe == "" {
		safe = "untitled"
	}
	return fmt.Sprintf("%s_%d.json", safe, year)
}

var controlChars = regexp.MustCompile(`[\x00-\x1f]`)
