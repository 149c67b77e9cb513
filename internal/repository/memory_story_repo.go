package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/StergiosCha/perpatame/internal/domain"
)

// MemoryStoryRepository keeps stories in process memory. It backs the
// "memory" database driver used for local runs and tests.
type MemoryStoryRepository struct {
	mu      sync.RWMutex
	stories map[string]domain.Story
}

// NewMemoryStoryRepository creates an empty in-memory repository.
func NewMemoryStoryRepository() *MemoryStoryRepository {
	return &MemoryStoryRepository{stories: make(map[string]domain.Story)}
}

func (r *MemoryStoryRepository) Create(ctx context.Context, story *domain.Story) error {
	if story.ID == "" {
		return fmt.Errorf("create story: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stories[story.ID]; ok {
		return ErrStoryExists
	}
	r.stories[story.ID] = story.Clone()
	return nil
}

func (r *MemoryStoryRepository) GetByID(ctx context.Context, id string) (*domain.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stories[id]
	if !ok {
		return nil, ErrStoryNotFound
	}
	out := s.Clone()
	return &out, nil
}

func (r *MemoryStoryRepository) ListByStatus(ctx context.Context, status domain.StoryStatus, limit int) ([]domain.Story, error) {
	r.mu.RLock()
	out := make([]domain.Story, 0)
	for _, s := range r.stories {
		if s.Status == status {
			out = append(out, s.Clone())
		}
	}
	r.mu.RUnlock()

	key := func(s domain.Story) time.Time {
		if status != domain.StatusPending && s.DecidedAt != nil {
			return *s.DecidedAt
		}
		return s.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if !ki.Equal(kj) {
			return ki.After(kj)
		}
		return out[i].ID > out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryStoryRepository) UpdateStatus(ctx context.Context, id string, status domain.StoryStatus, decidedAt time.Time, decidedBy string) (*domain.Story, error) {
	if !status.Final() {
		return nil, fmt.Errorf("update story %s: %q is not a final status", id, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stories[id]
	if !ok {
		return nil, ErrStoryNotFound
	}
	if s.Status != domain.StatusPending {
		return nil, ErrStoryNotPending
	}

	at := decidedAt.UTC()
	s.Status = status
	s.DecidedAt = &at
	s.DecidedBy = decidedBy
	r.stories[id] = s

	out := s.Clone()
	return &out, nil
}

func (r *MemoryStoryRepository) CountByStatus(ctx context.Context) (map[domain.StoryStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.StoryStatus]int64)
	for _, s := range r.stories {
		counts[s.Status]++
	}
	return counts, nil
}
