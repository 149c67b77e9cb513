package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/pkg/log"
)

// GormStoryRepository implements StoryRepository using GORM.
type GormStoryRepository struct {
	db *gorm.DB
}

// NewGormStoryRepository creates a new GORM-based story repository.
func NewGormStoryRepository(db *gorm.DB) *GormStoryRepository {
	return &GormStoryRepository{db: db}
}

// Create inserts a new story.
func (r *GormStoryRepository) Create(ctx context.Context, story *domain.Story) error {
	l := log.Ctx(ctx)

	if story.ID == "" {
		return fmt.Errorf("create story: empty id")
	}

	model := domain.StoryToModel(story)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || r.exists(ctx, story.ID) {
			return ErrStoryExists
		}
		l.Error().Err(err).Str(log.FieldStoryID, story.ID).Msg("failed to create story in db")
		return err
	}

	l.Debug().Str(log.FieldStoryID, story.ID).Msg("story created in db")
	return nil
}

func (r *GormStoryRepository) exists(ctx context.Context, id string) bool {
	var n int64
	r.db.WithContext(ctx).Model(&domain.StoryModel{}).Where("id = ?", id).Count(&n)
	return n > 0
}

// GetByID retrieves a story by ID.
func (r *GormStoryRepository) GetByID(ctx context.Context, id string) (*domain.Story, error) {
	l := log.Ctx(ctx)

	var model domain.StoryModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrStoryNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldStoryID, id).Msg("failed to get story by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// ListByStatus lists stories with the given status, newest first.
func (r *GormStoryRepository) ListByStatus(ctx context.Context, status domain.StoryStatus, limit int) ([]domain.Story, error) {
	l := log.Ctx(ctx)

	query := r.db.WithContext(ctx).Model(&domain.StoryModel{}).Where("status = ?", string(status))
	if status == domain.StatusPending {
		query = query.Order("created_at DESC").Order("id DESC")
	} else {
		query = query.Order("decided_at DESC").Order("id DESC")
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []domain.StoryModel
	if err := query.Find(&models).Error; err != nil {
		l.Error().Err(err).Str("status", string(status)).Msg("failed to list stories from db")
		return nil, err
	}

	stories := make([]domain.Story, len(models))
	for i := range models {
		stories[i] = *models[i].ToDomain()
	}
	return stories, nil
}

// UpdateStatus performs a conditional update guarded by status = pending.
// The returned story is built from the row read inside the transaction
// and the values written, so a committed update is never reported as a
// failure.
func (r *GormStoryRepository) UpdateStatus(ctx context.Context, id string, status domain.StoryStatus, decidedAt time.Time, decidedBy string) (*domain.Story, error) {
	l := log.Ctx(ctx)

	if !status.Final() {
		return nil, fmt.Errorf("update story %s: %q is not a final status", id, status)
	}

	decidedAt = decidedAt.UTC()
	var model domain.StoryModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStoryNotFound
			}
			return err
		}
		if model.Status != string(domain.StatusPending) {
			return ErrStoryNotPending
		}

		result := tx.Model(&domain.StoryModel{}).
			Where("id = ? AND status = ?", id, string(domain.StatusPending)).
			Updates(map[string]interface{}{
				"status":     string(status),
				"decided_at": decidedAt,
				"decided_by": decidedBy,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStoryNotPending
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrStoryNotFound) && !errors.Is(err, ErrStoryNotPending) {
			l.Error().Err(err).Str(log.FieldStoryID, id).Msg("failed to update story status")
		}
		return nil, err
	}

	model.Status = string(status)
	model.DecidedAt = &decidedAt
	model.DecidedBy = decidedBy

	l.Debug().Str(log.FieldStoryID, id).Str("status", string(status)).Msg("story status updated in db")
	return model.ToDomain(), nil
}

// CountByStatus counts stories grouped by status.
func (r *GormStoryRepository) CountByStatus(ctx context.Context) (map[domain.StoryStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&domain.StoryModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to count stories by status")
		return nil, err
	}

	counts := make(map[domain.StoryStatus]int64, len(rows))
	for _, row := range rows {
		counts[domain.StoryStatus(row.Status)] = row.Count
	}
	return counts, nil
}
