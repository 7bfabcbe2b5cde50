package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"papers-crawler/pkg/domain"
)

// Index is a SQLite ledger of runs and of every article written. It feeds
// resume: ids recorded here are skipped by later runs.
type Index struct {
	db    *sql.DB
	runID string
}

// OpenIndex opens or creates the index at path.
func OpenIndex(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	idx := &Index{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (i *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		persisted INTEGER NOT NULL DEFAULT 0,
		manifest TEXT,
		archive TEXT
	);

	CREATE TABLE IF NOT EXISTS articles (
		external_id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT,
		path TEXT NOT NULL,
		published_on TEXT,
		run_id TEXT,
		saved_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_articles_target ON articles(target);
	`

	_, err := i.db.Exec(schema)
	return err
}

func (i *Index) Close() error {
	return i.db.Close()
}

// StartRun records a new run and returns its id.
func (i *Index) StartRun(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	_, err := i.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at) VALUES (?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	i.runID = runID
	return runID, nil
}

// FinishRun closes the current run with its totals.
func (i *Index) FinishRun(ctx context.Context, persisted int, manifest, archive string) error {
	if i.runID == "" {
		return nil
	}
	_, err := i.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, persisted = ?, manifest = ?, archive = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339), persisted, manifest, archive, i.runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// SaveRecord implements RecordSink.
func (i *Index) SaveRecord(ctx context.Context, entry domain.Persisted, rec *domain.ExtractedRecord) error {
	row := NewArticleRow(entry, rec)
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO articles (external_id, target, title, url, path, published_on, run_id, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			target = excluded.target,
			title = excluded.title,
			url = excluded.url,
			path = excluded.path,
			published_on = excluded.published_on,
			run_id = excluded.run_id,
			saved_at = excluded.saved_at`,
		row.ExternalID, row.Target, row.Title, row.URL, row.Path, row.PublishedOn,
		i.runID, row.SavedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to index article %s: %w", row.ExternalID, err)
	}
	return nil
}

// KnownIDs implements Seeder.
func (i *Index) KnownIDs(ctx context.Context) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT external_id FROM articles ORDER BY external_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID      string
	StartedAt  string
	FinishedAt sql.NullString
	Persisted  int
}

// Runs lists recorded runs, newest first.
func (i *Index) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT run_id, started_at, finished_at, persisted FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Persisted); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Articles lists every indexed article, oldest save first.
func (i *Index) Articles(ctx context.Context) ([]domain.Persisted, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT external_id, target, title, path, COALESCE(published_on, '') FROM articles ORDER BY saved_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var out []domain.Persisted
	for rows.Next() {
		var p domain.Persisted
		if err := rows.Scan(&p.ExternalID, &p.Target, &p.Title, &p.Path, &p.PublishedOn); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
