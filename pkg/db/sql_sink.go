package db

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"papers-crawler/pkg/domain"
)

// DefaultArticlesTable is the table SQLSink writes to.
const DefaultArticlesTable = "papers_articles"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLSink mirrors records into a Postgres table. It works on any DBProvider,
// so a plain Postgres server and a Supabase database are interchangeable.
type SQLSink struct {
	provider DBProvider
	table    string
}

func NewSQLSink(provider DBProvider, table string) (*SQLSink, error) {
	if table == "" {
		table = DefaultArticlesTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SQLSink{provider: provider, table: table}, nil
}

// EnsureSchema creates the table when missing.
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	db := s.provider.DB()
	if db == nil {
		return fmt.Errorf("no database handle")
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			external_id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			title TEXT NOT NULL,
			url TEXT,
			path TEXT NOT NULL,
			published_on TEXT,
			fields JSONB NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveRecord upserts the record by external id.
func (s *SQLSink) SaveRecord(ctx context.Context, entry domain.Persisted, rec *domain.ExtractedRecord) error {
	db := s.provider.DB()
	if db == nil {
		return fmt.Errorf("no database handle")
	}

	row := NewArticleRow(entry, rec)
	fields, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (external_id, target, title, url, path, published_on, fields, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO UPDATE SET
			target = EXCLUDED.target,
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			path = EXCLUDED.path,
			published_on = EXCLUDED.published_on,
			fields = EXCLUDED.fields,
			saved_at = EXCLUDED.saved_at`, s.table),
		row.ExternalID, row.Target, row.Title, row.URL, row.Path, row.PublishedOn, string(fields), row.SavedAt)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", row.ExternalID, err)
	}
	return nil
}

// KnownIDs implements Seeder.
func (s *SQLSink) KnownIDs(ctx context.Context) ([]string, error) {
	db := s.provider.DB()
	if db == nil {
		return nil, fmt.Errorf("no database handle")
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT external_id FROM %s`, s.table))
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
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
