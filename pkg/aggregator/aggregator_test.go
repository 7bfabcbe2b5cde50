package aggregator

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papers-crawler/pkg/db"
	"papers-crawler/pkg/domain"
	"papers-crawler/pkg/progress"
	"papers-crawler/pkg/tracker"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

func stub(id, title string) domain.ArticleStub {
	return domain.ArticleStub{
		ExternalID:  id,
		URL:         "https://www.nature.com/articles/" + id,
		Title:       title,
		PublishedOn: time.Date(2023, 5, 2, 0, 0, 0, 0, time.UTC),
		RawDate:     "02 May 2023",
		Eligible:    true,
	}
}

func record(id string) *domain.ExtractedRecord {
	f := domain.NewFields()
	f.Set("Title", "Title "+id)
	f.Set("Abstract", "Some abstract.")
	f.Set(domain.FieldURL, "https://www.nature.com/articles/"+id)
	return &domain.ExtractedRecord{ExternalID: id, Fields: f}
}

type recordingSink struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *recordingSink) SaveRecord(_ context.Context, entry domain.Persisted, _ *domain.ExtractedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, entry.ExternalID)
	return s.err
}

func newAggregator(t *testing.T, tr *tracker.Tracker, opts Options) *Aggregator {
	t.Helper()
	if opts.OutRoot == "" {
		opts.OutRoot = t.TempDir()
	}
	opts.Now = func() time.Time { return fixedNow }
	agg, err := New(tr, opts)
	require.NoError(t, err)
	return agg
}

func persist(t *testing.T, agg *Aggregator, tr *tracker.Tracker, target string, s domain.ArticleStub) string {
	t.Helper()
	ticket, err := tr.TryAccept(s)
	require.NoError(t, err)
	path, err := agg.Persist(context.Background(), target, s, record(s.ExternalID), ticket)
	require.NoError(t, err)
	return path
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name  string
		title string
		year  int
		want  string
	}{
		{"plain", "Deep sea vents", 2023, "Deep sea vents_2023.json"},
		{"unsafe characters", `a<b>c:d"e/f\g|h?i*j`, 2022, "a_b_c_d_e_f_g_h_i_j_2022.json"},
		{"empty", "", 2021, "untitled_2021.json"},
		{"truncated", strings.Repeat("x", 150), 2020, strings.Repeat("x", 100) + "_2020.json"},
		{"multibyte truncation", strings.Repeat("é", 120), 2020, strings.Repeat("é", 100) + "_2020.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.title, tt.year))
		})
	}
}

func TestPersistWritesRecordAndCommits(t *testing.T) {
	tr := tracker.New(0)
	sink := &recordingSink{}
	agg := newAggregator(t, tr, Options{Sinks: []db.RecordSink{sink}})

	path := persist(t, agg, tr, "ncomms", stub("s41467-023-1", "Coral: reef/recovery?"))

	assert.Equal(t, filepath.Join(agg.OutRoot(), "ncomms", "Coral_ reef_recovery__2023.json"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"Title\": \"Title s41467-023-1\""), string(data))

	assert.True(t, tr.Seen("s41467-023-1"))
	assert.Equal(t, 1, tr.Accepted())
	assert.Equal(t, []string{"s41467-023-1"}, sink.ids)

	entries := tr.Persisted()
	require.Len(t, entries, 1)
	assert.Equal(t, "ncomms", entries[0].Target)
	assert.Equal(t, "02 May 2023", entries[0].PublishedOn)
}

func TestPersistSinkFailureDoesNotFailRecord(t *testing.T) {
	tr := tracker.New(0)
	sink := &recordingSink{err: errors.New("connection refused")}
	agg := newAggregator(t, tr, Options{Sinks: []db.RecordSink{sink}})

	persist(t, agg, tr, "nature", stub("a1", "A"))

	assert.Equal(t, 1, tr.Accepted())
	assert.Equal(t, []string{"a1"}, sink.ids)
}

func TestPersistWriteFailureLeavesTicketOpen(t *testing.T) {
	tr := tracker.New(0)
	agg := newAggregator(t, tr, Options{})

	// A regular file where the target directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(agg.OutRoot(), "blocked"), []byte("x"), 0o644))

	s := stub("a1", "A")
	ticket, err := tr.TryAccept(s)
	require.NoError(t, err)

	_, err = agg.Persist(context.Background(), "blocked", s, record("a1"), ticket)
	var perr *PersistError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, tr.Accepted())
	assert.Equal(t, 1, tr.InFlight())

	tr.Release(ticket)
	assert.False(t, tr.Seen("a1"))
}

func TestPersistCommitFailureRemovesFile(t *testing.T) {
	tr := tracker.New(0)
	agg := newAggregator(t, tr, Options{})

	s := stub("a1", "Orphan")
	ticket, err := tr.TryAccept(s)
	require.NoError(t, err)
	tr.Release(ticket)

	_, err = agg.Persist(context.Background(), "nature", s, record("a1"), ticket)
	require.ErrorIs(t, err, tracker.ErrUnknownTicket)

	_, statErr := os.Stat(filepath.Join(agg.OutRoot(), "nature", "Orphan_2023.json"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, tr.Persisted())
}

func TestPersistKeepsMarkupCharactersRaw(t *testing.T) {
	tr := tracker.New(0)
	agg := newAggregator(t, tr, Options{})

	s := stub("a1", "Inequalities")
	ticket, err := tr.TryAccept(s)
	require.NoError(t, err)
	rec := record("a1")
	rec.Fields.Set("Results", "p < 0.05 & n > 30")

	path, err := agg.Persist(context.Background(), "nature", s, rec, ticket)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Results": "p < 0.05 & n > 30"`)
	assert.NotContains(t, string(data), `\u003c`)
	assert.False(t, strings.HasSuffix(string(data), "\n"))
}

func TestPersistReportsProgress(t *testing.T) {
	var (
		mu     sync.Mutex
		files  []string
		events []progress.Event
	)
	d := progress.NewDispatcher(
		func(name, _ string) {
			mu.Lock()
			defer mu.Unlock()
			files = append(files, name)
		},
		func(ev progress.Event) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		},
		0, nil,
	)

	tr := tracker.New(2)
	agg := newAggregator(t, tr, Options{Limit: 2, Progress: d})
	persist(t, agg, tr, "nature", stub("a1", "First"))
	persist(t, agg, tr, "nature", stub("a2", "Second"))
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"First_2023.json", "Second_2023.json"}, files)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[1].Current)
	assert.Equal(t, 2, events[1].Total)
	assert.Equal(t, progress.StageSaving, events[1].Stage)
	assert.Positive(t, events[1].Size)
}

func TestFinalizeSkipsWhenNothingPersisted(t *testing.T) {
	tr := tracker.New(0)
	agg := newAggregator(t, tr, Options{})

	summary := agg.Finalize(context.Background())

	assert.Zero(t, summary.Count)
	assert.Empty(t, summary.ManifestPath)
	assert.Empty(t, summary.ArchivePath)
	assert.NoError(t, summary.Err)

	entries, err := os.ReadDir(agg.OutRoot())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFinalizeWritesManifestAndArchive(t *testing.T) {
	tr := tracker.New(0)
	agg := newAggregator(t, tr, Options{})
	persist(t, agg, tr, "nature", stub("a1", "First"))
	persist(t, agg, tr, "ncomms", stub("b1", "Second"))

	summary := agg.Finalize(context.Background())
	require.NoError(t, summary.Err)
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, filepath.Join(agg.OutRoot(), "extraction_summary_20240301_123045.csv"), summary.ManifestPath)
	assert.Equal(t, filepath.Join(agg.OutRoot(), "all_20240301_123045.zip"), summary.ArchivePath)
	assert.Positive(t, summary.ArchiveSize)

	f, err := os.Open(summary.ManifestPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Number", "Journal", "Article Name", "Publish Date", "File Path", "File Size (KB)"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "nature", rows[1][1])
	assert.Equal(t, "First", rows[1][2])
	assert.Equal(t, "02 May 2023", rows[1][3])
	assert.Equal(t, "ncomms", rows[2][1])
	assert.Regexp(t, `^\d+\.\d{2}$`, rows[2][5])

	zr, err := zip.OpenReader(summary.ArchivePath)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
		assert.Equal(t, zip.Deflate, zf.Method)
	}
	assert.Equal(t, []string{"nature/First_2023.json", "ncomms/Second_2023.json"}, names)
}

func TestFinalizeArchivesCollidingFileOnce(t *testing.T) {
	tr := tracker.New(0)
	agg := newAggregator(t, tr, Options{})
	persist(t, agg, tr, "nature", stub("a1", "Same title"))
	persist(t, agg, tr, "nature", stub("a2", "Same title"))

	summary := agg.Finalize(context.Background())
	require.NoError(t, summary.Err)
	assert.Equal(t, 2, summary.Count)

	zr, err := zip.OpenReader(summary.ArchivePath)
	require.NoError(t, err)
	defer zr.Close()
	assert.Len(t, zr.File, 1)
}

func TestFinalizeReportsArchiveFailure(t *testing.T) {
	tr := tracker.New(0)
	agg := newAggregator(t, tr, Options{})
	path := persist(t, agg, tr, "nature", stub("a1", "First"))
	require.NoError(t, os.Remove(path))

	summary := agg.Finalize(context.Background())

	assert.ErrorIs(t, summary.Err, ErrArchive)
	assert.NotErrorIs(t, summary.Err, ErrManifest)
	assert.NotEmpty(t, summary.ManifestPath)
	assert.Empty(t, summary.ArchivePath)
	assert.Len(t, tr.Persisted(), 1)
}
