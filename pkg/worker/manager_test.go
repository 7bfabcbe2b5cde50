package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRunsTargetsConcurrently(t *testing.T) {
	h := newHarness(t, []string{"j1", "j2"}, 2023, 2023, 0)
	for _, target := range []string{"j1", "j2"} {
		id := target + "-a"
		h.site.
			Page(listingURL(target, 2023, 1), listing(card(id, "2023-06-01", true))).
			Page(listingURL(target, 2023, 2), listing()).
			Page(articleURL(id), article(id))
	}

	m := NewManager(h.worker(t, &fakeAdapter{}), 2, h.tracker, nil)
	reports := m.Run(context.Background(), []string{"j1", "j2"})

	require.Len(t, reports, 2)
	assert.Equal(t, "j1", reports[0].Target)
	assert.Equal(t, "j2", reports[1].Target)
	for _, r := range reports {
		assert.NoError(t, r.Err)
		assert.Equal(t, 1, r.Saved)
	}
	assert.ElementsMatch(t, []string{"j1-a", "j2-a"}, persistedIDs(h.tracker))
	assertSessionsClosed(t, h.site, 2)
}

func TestManagerIsolatesPanickingTarget(t *testing.T) {
	h := newHarness(t, []string{"boom", "j1"}, 2023, 2023, 0)
	h.site.
		Page(listingURL("j1", 2023, 1), listing(card("p1", "2023-06-01", true))).
		Page(listingURL("j1", 2023, 2), listing()).
		Page(articleURL("p1"), article("p1"))

	m := NewManager(h.worker(t, &fakeAdapter{panicOn: "boom"}), 1, h.tracker, nil)
	reports := m.Run(context.Background(), []string{"boom", "j1"})

	require.Len(t, reports, 2)
	assert.Equal(t, "boom", reports[0].Target)
	assert.ErrorIs(t, reports[0].Err, ErrTargetPanic)
	assert.NoError(t, reports[1].Err)
	assert.Equal(t, 1, reports[1].Saved)
	assertSessionsClosed(t, h.site, 2)
}

func TestManagerSkipsTargetsOnceLimitReached(t *testing.T) {
	h := newHarness(t, []string{"j1", "j2"}, 2023, 2023, 1)
	h.site.
		Page(listingURL("j1", 2023, 1), listing(card("q1", "2023-06-01", true))).
		Page(articleURL("q1"), article("q1"))

	m := NewManager(h.worker(t, &fakeAdapter{}), 1, h.tracker, nil)
	reports := m.Run(context.Background(), []string{"j1", "j2"})

	assert.Equal(t, 1, reports[0].Saved)
	assert.True(t, reports[1].Skipped)
	assert.Zero(t, countFetches(h.site, listingURL("j2", 2023, 1)))
	assertSessionsClosed(t, h.site, 1)
}

func TestManagerSkipsTargetsAfterCancellation(t *testing.T) {
	h := newHarness(t, []string{"j1"}, 2023, 2023, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports := NewManager(h.worker(t, &fakeAdapter{}), 1, h.tracker, nil).Run(ctx, []string{"j1"})

	require.Len(t, reports, 1)
	assert.True(t, reports[0].Skipped)
	assert.ErrorIs(t, reports[0].Err, context.Canceled)
}
