package service

import (
	"sync"

	"github.com/StergiosCha/perpatame/internal/domain"
)

// Aggregator keeps the running moderation counters.
type Aggregator struct {
	mu    sync.Mutex
	stats domain.Stats
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Reset replaces the counters with counts read from the store.
func (a *Aggregator) Reset(counts map[domain.StoryStatus]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats = domain.Stats{
		Pending:  counts[domain.StatusPending],
		Approved: counts[domain.StatusApproved],
		Rejected: counts[domain.StatusRejected],
	}
	a.stats.TotalSubmissions = a.stats.Pending + a.stats.Approved + a.stats.Rejected
}

// Submitted counts a new pending story.
func (a *Aggregator) Submitted() domain.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalSubmissions++
	a.stats.Pending++
	return a.stats
}

// Transition moves one story from pending to to.
func (a *Aggregator) Transition(to domain.StoryStatus) domain.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stats.Pending > 0 {
		a.stats.Pending--
	}
	switch to {
	case domain.StatusApproved:
		a.stats.Approved++
	case domain.StatusRejected:
		a.stats.Rejected++
	}
	return a.stats
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() domain.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
