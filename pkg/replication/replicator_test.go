package replication

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papers-crawler/pkg/domain"
)

type staticSource []domain.Persisted

func (s staticSource) Articles(context.Context) ([]domain.Persisted, error) { return s, nil }

type memoryTarget struct {
	mu      sync.Mutex
	records map[string]*domain.ExtractedRecord
	failOn  string
}

func newMemoryTarget(ids ...string) *memoryTarget {
	m := &memoryTarget{records: make(map[string]*domain.ExtractedRecord)}
	for _, id := range ids {
		m.records[id] = nil
	}
	return m
}

func (m *memoryTarget) SaveRecord(_ context.Context, entry domain.Persisted, rec *domain.ExtractedRecord) error {
	if entry.ExternalID == m.failOn {
		return errors.New("write refused")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[entry.ExternalID] = rec
	return nil
}

func (m *memoryTarget) KnownIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func writeRecords(t *testing.T, ids ...string) staticSource {
	t.Helper()
	dir := t.TempDir()
	var src staticSource
	for _, id := range ids {
		path := filepath.Join(dir, id+".json")
		body := fmt.Sprintf(`{"url":"https://www.nature.com/articles/%s","title":"Title %s","Abstract":"Text."}`, id, id)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		src = append(src, domain.Persisted{ExternalID: id, Target: "nature", Title: "Title " + id, Path: path})
	}
	return src
}

func TestReplicateCopiesOnlyMissingRecords(t *testing.T) {
	src := writeRecords(t, "a", "b", "c", "d", "e")
	target := newMemoryTarget("b")

	r, err := NewReplicator(Config{Source: src, Targets: []Target{target}, BatchSize: 2, Workers: 2})
	require.NoError(t, err)

	reports, err := r.Replicate(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 5, reports[0].Processed)
	assert.Equal(t, 4, reports[0].Replicated)

	ids, _ := target.KnownIDs(context.Background())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)

	rec := target.records["a"]
	require.NotNil(t, rec)
	assert.Equal(t, "https://www.nature.com/articles/a", rec.SourceURL)
	assert.Equal(t, []string{"url", "title", "Abstract"}, rec.Fields.Keys())
}

func TestReplicateSkipsMissingFiles(t *testing.T) {
	src := writeRecords(t, "a", "b")
	require.NoError(t, os.Remove(src[0].Path))
	target := newMemoryTarget()

	r, err := NewReplicator(Config{Source: src, Targets: []Target{target}})
	require.NoError(t, err)

	reports, err := r.Replicate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Replicated)
	assert.Equal(t, 1, reports[0].Missing)
}

func TestReplicateStopsOnSinkError(t *testing.T) {
	src := writeRecords(t, "a", "b")
	target := newMemoryTarget()
	target.failOn = "b"

	r, err := NewReplicator(Config{Source: src, Targets: []Target{target}, BatchSize: 1, Workers: 1})
	require.NoError(t, err)

	_, err = r.Replicate(context.Background())
	assert.ErrorContains(t, err, "write refused")
}

func TestNewReplicatorValidates(t *testing.T) {
	_, err := NewReplicator(Config{})
	assert.Error(t, err)

	_, err = NewReplicator(Config{Source: staticSource{}})
	assert.Error(t, err)
}
