// Package tracker keeps the run state: which articles were seen, how many
// were accepted, and where they were written.
package tracker

import (
	"errors"
	"sync"

	"papers-crawler/pkg/domain"
	"papers-crawler/pkg/filter"
)

// Rejection reasons returned by TryAccept.
var (
	ErrAlreadySeen    = errors.New("already seen")
	ErrInFlight       = errors.New("already being processed")
	ErrLimitReached   = errors.New("limit reached")
	ErrNotEligible    = filter.ErrNotEligible
	ErrOutOfRange     = filter.ErrOutOfRange
	ErrUnparsableYear = filter.ErrUnparsableYear
	ErrUnknownTicket  = errors.New("unknown ticket")
)

// Ticket is a reservation for one article. Exactly one of Commit or Release
// must follow.
type Ticket struct {
	ID string
}

// Tracker is safe for concurrent use. A stub's id is marked seen only once
// its record has been written; until then it holds an in-flight reservation
// that counts toward the limit.
type Tracker struct {
	mu       sync.Mutex
	limit    int
	filters  []filter.Filter
	seen     map[string]struct{}
	known    map[string]struct{}
	inflight map[string]struct{}
	accepted int
	persist  []domain.Persisted
}

// New creates a tracker. A limit of 0 means unlimited.
func New(limit int, filters ...filter.Filter) *Tracker {
	return &Tracker{
		limit:    limit,
		filters:  filters,
		seen:     make(map[string]struct{}),
		known:    make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Seed marks ids persisted by earlier runs. They are rejected as already
// seen but do not count toward this run's accepted total.
func (t *Tracker) Seed(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.known[id] = struct{}{}
	}
}

// TryAccept checks a stub and reserves it. The checks and the reservation
// happen under one lock, so two workers can never both win the same id or
// the last slot under the limit.
func (t *Tracker) TryAccept(stub domain.ArticleStub) (Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := stub.ExternalID
	if _, ok := t.seen[id]; ok {
		return Ticket{}, ErrAlreadySeen
	}
	if _, ok := t.known[id]; ok {
		return Ticket{}, ErrAlreadySeen
	}
	if _, ok := t.inflight[id]; ok {
		return Ticket{}, ErrInFlight
	}
	if err := filter.Apply(stub, t.filters...); err != nil {
		return Ticket{}, err
	}
	if t.limit > 0 && t.accepted+len(t.inflight) >= t.limit {
		return Ticket{}, ErrLimitReached
	}

	t.inflight[id] = struct{}{}
	return Ticket{ID: id}, nil
}

// Commit records a successful write.
func (t *Tracker) Commit(ticket Ticket, entry domain.Persisted) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.inflight[ticket.ID]; !ok {
		return ErrUnknownTicket
	}
	delete(t.inflight, ticket.ID)
	t.seen[ticket.ID] = struct{}{}
	t.accepted++
	t.persist = append(t.persist, entry)
	return nil
}

// Release gives a reservation back after a failure. The id stays unseen.
// Releasing an unknown ticket is a no-op.
func (t *Tracker) Release(ticket Ticket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, ticket.ID)
}

// LimitReached reports whether committed records have reached the limit.
func (t *Tracker) LimitReached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit > 0 && t.accepted >= t.limit
}

func (t *Tracker) Limit() int { return t.limit }

func (t *Tracker) Accepted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted
}

func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// Seen reports whether id was persisted in this run.
func (t *Tracker) Seen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[id]
	return ok
}

// Persisted returns a copy of the persisted entries in commit order.
func (t *Tracker) Persisted() []domain.Persisted {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Persisted, len(t.persist))
	copy(out, t.persist)
	return out
}
