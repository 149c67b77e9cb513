package repository

import (
	"context"
	"errors"
	"time"

	"github.com/StergiosCha/perpatame/internal/domain"
)

var (
	ErrStoryNotFound   = errors.New("story not found")
	ErrStoryNotPending = errors.New("story is not pending")
	ErrStoryExists     = errors.New("story already exists")
)

// StoryRepository persists stories. It is the source of truth for
// moderation state; UpdateStatus only succeeds on a pending story.
type StoryRepository interface {
	Create(ctx context.Context, story *domain.Story) error
	GetByID(ctx context.Context, id string) (*domain.Story, error)

	// ListByStatus returns stories newest first: pending by creation
	// time, decided stories by decision time. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status domain.StoryStatus, limit int) ([]domain.Story, error)

	// UpdateStatus moves a pending story to a final status and returns
	// the updated story. ErrStoryNotPending if it was already decided.
	UpdateStatus(ctx context.Context, id string, status domain.StoryStatus, decidedAt time.Time, decidedBy string) (*domain.Story, error)

	CountByStatus(ctx context.Context) (map[domain.StoryStatus]int64, error)
}
