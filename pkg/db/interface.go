package db

import (
	"context"
	"database/sql"
	"time"

	"papers-crawler/pkg/domain"
)

// DBProvider is an interface for database clients that provide access to a sql.DB handle.
// This allows both PostgresClient and SupabaseClient to be used interchangeably.
type DBProvider interface {
	DB() *sql.DB
}

// RecordSink mirrors persisted records into a store. Sinks are best effort:
// a failing sink never undoes the file write.
type RecordSink interface {
	SaveRecord(ctx context.Context, entry domain.Persisted, rec *domain.ExtractedRecord) error
}

// Seeder lists article ids already stored, for resuming across runs.
type Seeder interface {
	KnownIDs(ctx context.Context) ([]string, error)
}

// ArticleRow is the shape every sink stores.
type ArticleRow struct {
	ExternalID  string         `bson:"external_id" json:"external_id"`
	Target      string         `bson:"target" json:"target"`
	Title       string         `bson:"title" json:"title"`
	URL         string         `bson:"url" json:"url"`
	Path        string         `bson:"path" json:"path"`
	PublishedOn string         `bson:"published_on" json:"published_on"`
	Fields      *domain.Fields `bson:"-" json:"fields"`
	SavedAt     time.Time      `bson:"saved_at" json:"saved_at"`
}

func NewArticleRow(entry domain.Persisted, rec *domain.ExtractedRecord) ArticleRow {
	row := ArticleRow{
		ExternalID:  entry.ExternalID,
		Target:      entry.Target,
		Title:       entry.Title,
		Path:        entry.Path,
		PublishedOn: entry.PublishedOn,
		SavedAt:     time.Now().UTC(),
	}
	if rec != nil {
		row.URL = rec.SourceURL
		row.Fields = rec.Fields
	}
	return row
}
