package tracker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papers-crawler/pkg/domain"
	"papers-crawler/pkg/filter"
)

func stub(id string, year int) domain.ArticleStub {
	return domain.ArticleStub{
		ExternalID:  id,
		URL:         "https://www.nature.com/articles/" + id,
		Title:       "Title " + id,
		PublishedOn: time.Date(year, 1, 15, 0, 0, 0, 0, time.UTC),
		Eligible:    true,
	}
}

func persisted(id string) domain.Persisted {
	return domain.Persisted{ExternalID: id, Path: "/tmp/" + id + ".json"}
}

func newTracker(limit int) *Tracker {
	return New(limit, filter.NewEligibleFilter(), filter.NewYearRangeFilter(2021, 2023))
}

func TestTryAcceptIsIdempotentPerID(t *testing.T) {
	tr := newTracker(0)

	ticket, err := tr.TryAccept(stub("a", 2022))
	require.NoError(t, err)

	_, err = tr.TryAccept(stub("a", 2022))
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, tr.Commit(ticket, persisted("a")))

	_, err = tr.TryAccept(stub("a", 2022))
	assert.ErrorIs(t, err, ErrAlreadySeen)
	assert.Equal(t, 1, tr.Accepted())
	assert.Len(t, tr.Persisted(), 1)
}

func TestTryAcceptRejectsByFilter(t *testing.T) {
	tr := newTracker(0)

	closed := stub("b", 2022)
	closed.Eligible = false
	_, err := tr.TryAccept(closed)
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = tr.TryAccept(stub("c", 2019))
	assert.ErrorIs(t, err, ErrOutOfRange)

	undated := stub("d", 2022)
	undated.PublishedOn = time.Time{}
	_, err = tr.TryAccept(undated)
	assert.ErrorIs(t, err, ErrUnparsableYear)

	assert.Zero(t, tr.Accepted())
	assert.Zero(t, tr.InFlight())
}

func TestReleaseLeavesIDUnseen(t *testing.T) {
	tr := newTracker(0)

	ticket, err := tr.TryAccept(stub("a", 2022))
	require.NoError(t, err)
	tr.Release(ticket)

	assert.False(t, tr.Seen("a"))
	assert.Zero(t, tr.Accepted())

	_, err = tr.TryAccept(stub("a", 2022))
	assert.NoError(t, err)
}

func TestCommitUnknownTicket(t *testing.T) {
	tr := newTracker(0)
	assert.ErrorIs(t, tr.Commit(Ticket{ID: "ghost"}, persisted("ghost")), ErrUnknownTicket)
}

func TestLimitCountsReservations(t *testing.T) {
	tr := newTracker(1)

	first, err := tr.TryAccept(stub("a", 2022))
	require.NoError(t, err)

	_, err = tr.TryAccept(stub("b", 2022))
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.False(t, tr.LimitReached())

	require.NoError(t, tr.Commit(first, persisted("a")))
	assert.True(t, tr.LimitReached())
}

func TestLimitFreedByRelease(t *testing.T) {
	tr := newTracker(1)

	first, err := tr.TryAccept(stub("a", 2022))
	require.NoError(t, err)
	tr.Release(first)

	_, err = tr.TryAccept(stub("b", 2022))
	assert.NoError(t, err)
}

func TestSeededIDsAreRejectedButNotCounted(t *testing.T) {
	tr := newTracker(2)
	tr.Seed([]string{"old"})

	_, err := tr.TryAccept(stub("old", 2022))
	assert.ErrorIs(t, err, ErrAlreadySeen)
	assert.Zero(t, tr.Accepted())
	assert.False(t, tr.Seen("old"))
}

func TestConcurrentAcceptNeverExceedsLimit(t *testing.T) {
	const limit = 7
	tr := newTracker(limit)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				// Workers compete for overlapping ids.
				id := fmt.Sprintf("art-%d", (w*13+i)%60)
				ticket, err := tr.TryAccept(stub(id, 2022))
				if err != nil {
					continue
				}
				if i%3 == 0 {
					tr.Release(ticket)
					continue
				}
				_ = tr.Commit(ticket, persisted(id))
			}
		}(w)
	}
	wg.Wait()

	entries := tr.Persisted()
	assert.LessOrEqual(t, tr.Accepted(), limit)
	assert.Equal(t, tr.Accepted(), len(entries))
	assert.Zero(t, tr.InFlight())

	ids := make(map[string]bool)
	for _, e := range entries {
		assert.False(t, ids[e.ExternalID], "duplicate %s", e.ExternalID)
		ids[e.ExternalID] = true
		assert.True(t, tr.Seen(e.ExternalID))
	}
}
