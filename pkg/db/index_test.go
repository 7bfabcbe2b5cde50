package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papers-crawler/pkg/domain"
)

func sampleRecord(id string) (domain.Persisted, *domain.ExtractedRecord) {
	fields := domain.NewFields()
	fields.Set("url", "https://www.nature.com/articles/"+id)
	fields.Set("title", "Title "+id)

	entry := domain.Persisted{
		ExternalID:  id,
		Target:      "nature",
		Title:       "Title " + id,
		PublishedOn: "2023-05-01",
		Path:        "/out/nature/Title_" + id + "_2023.json",
	}
	rec := &domain.ExtractedRecord{
		ExternalID: id,
		SourceURL:  "https://www.nature.com/articles/" + id,
		FetchedAt:  time.Now(),
		Fields:     fields,
	}
	return entry, rec
}

func TestIndexRecordsRunsAndArticles(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "state", "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	runID, err := idx.StartRun(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	for _, id := range []string{"b", "a"} {
		entry, rec := sampleRecord(id)
		require.NoError(t, idx.SaveRecord(ctx, entry, rec))
	}
	// Saving again is an upsert.
	entry, rec := sampleRecord("a")
	require.NoError(t, idx.SaveRecord(ctx, entry, rec))

	ids, err := idx.KnownIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, idx.FinishRun(ctx, 2, "/out/summary.csv", "/out/all.zip"))

	runs, err := idx.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, 2, runs[0].Persisted)
	assert.True(t, runs[0].FinishedAt.Valid)
}

func TestIndexSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenIndex(path)
	require.NoError(t, err)
	entry, rec := sampleRecord("kept")
	require.NoError(t, idx.SaveRecord(ctx, entry, rec))
	require.NoError(t, idx.Close())

	idx, err = OpenIndex(path)
	require.NoError(t, err)
	defer idx.Close()

	ids, err := idx.KnownIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, ids)
}

func TestNewSQLSinkRejectsBadTable(t *testing.T) {
	_, err := NewSQLSink(nil, "articles; DROP TABLE x")
	assert.Error(t, err)

	s, err := NewSQLSink(nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultArticlesTable, s.table)
}

func TestIndexListsArticles(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	for _, id := range []string{"first", "second"} {
		entry, rec := sampleRecord(id)
		require.NoError(t, idx.SaveRecord(ctx, entry, rec))
	}

	articles, err := idx.Articles(ctx)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "first", articles[0].ExternalID)
	assert.Equal(t, "nature", articles[0].Target)
	assert.Equal(t, "/out/nature/Title_first_2023.json", articles[0].Path)
	assert.Equal(t, "2023-05-01", articles[1].PublishedOn)
}
