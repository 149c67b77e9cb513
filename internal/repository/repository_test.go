package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/pkg/database"
)

func newSQLiteRepo(t *testing.T) StoryRepository {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		LogLevel:     "silent",
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	if err := database.AutoMigrate(db, &domain.StoryModel{}); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	t.Cleanup(func() { database.Close(db) })

	return NewGormStoryRepository(db)
}

func forEachRepo(t *testing.T, fn func(t *testing.T, repo StoryRepository)) {
	t.Run("gorm_sqlite", func(t *testing.T) { fn(t, newSQLiteRepo(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStoryRepository()) })
}

var base = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

func pendingStory(id string, offset time.Duration) *domain.Story {
	return &domain.Story{
		ID:              id,
		OriginalText:    "Περπάτησα για τη μητέρα μου",
		TransformedText: "Κάθε βήμα, μια υπόσχεση",
		AuthorName:      "Mia",
		Style:           domain.StyleInspirational,
		Theme:           &domain.Theme{Name: "love", Emojis: []string{"❤️", "💕"}, Animation: "heartbeat", Color: "#E91E63"},
		Status:          domain.StatusPending,
		CreatedAt:       base.Add(offset),
	}
}

func TestCreateAndGet(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo StoryRepository) {
		ctx := context.Background()

		if err := repo.Create(ctx, pendingStory("s1", 0)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := repo.Create(ctx, pendingStory("s1", 0)); !errors.Is(err, ErrStoryExists) {
			t.Errorf("duplicate Create() error = %v, want ErrStoryExists", err)
		}

		got, err := repo.GetByID(ctx, "s1")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != domain.StatusPending || got.DecidedAt != nil || got.DecidedBy != "" {
			t.Errorf("new story not pending: %+v", got)
		}
		if got.Theme == nil || len(got.Theme.Emojis) != 2 || got.Theme.Color != "#E91E63" {
			t.Errorf("theme not persisted: %+v", got.Theme)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("created_at = %v, want %v", got.CreatedAt, base)
		}

		if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrStoryNotFound) {
			t.Errorf("GetByID(missing) error = %v, want ErrStoryNotFound", err)
		}
	})
}

func TestUpdateStatusIsConditional(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo StoryRepository) {
		ctx := context.Background()
		if err := repo.Create(ctx, pendingStory("s1", 0)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		decided := base.Add(time.Minute)
		got, err := repo.UpdateStatus(ctx, "s1", domain.StatusApproved, decided, "Nikos")
		if err != nil {
			t.Fatalf("UpdateStatus() error = %v", err)
		}
		if got.Status != domain.StatusApproved || got.DecidedBy != "Nikos" || got.DecidedAt == nil || !got.DecidedAt.Equal(decided) {
			t.Errorf("UpdateStatus() = %+v", got)
		}
		if got.OriginalText != "Περπάτησα για τη μητέρα μου" || got.Theme == nil || len(got.Theme.Emojis) != 2 || !got.CreatedAt.Equal(base) {
			t.Errorf("UpdateStatus() dropped stored fields: %+v", got)
		}

		if _, err := repo.UpdateStatus(ctx, "s1", domain.StatusRejected, decided, "Eva"); !errors.Is(err, ErrStoryNotPending) {
			t.Errorf("second UpdateStatus() error = %v, want ErrStoryNotPending", err)
		}
		if _, err := repo.UpdateStatus(ctx, "missing", domain.StatusRejected, decided, "Eva"); !errors.Is(err, ErrStoryNotFound) {
			t.Errorf("UpdateStatus(missing) error = %v, want ErrStoryNotFound", err)
		}
		if _, err := repo.UpdateStatus(ctx, "s1", domain.StatusPending, decided, "Eva"); err == nil {
			t.Error("expected error moving a story back to pending")
		}

		after, err := repo.GetByID(ctx, "s1")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if after.Status != domain.StatusApproved || after.DecidedBy != "Nikos" {
			t.Errorf("losing update changed the story: %+v", after)
		}
	})
}

func TestConcurrentUpdateHasOneWinner(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo StoryRepository) {
		ctx := context.Background()
		if err := repo.Create(ctx, pendingStory("s1", 0)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		var wins, losses atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				status := domain.StatusApproved
				if i%2 == 1 {
					status = domain.StatusRejected
				}
				_, err := repo.UpdateStatus(ctx, "s1", status, base, fmt.Sprintf("mod-%d", i))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrStoryNotPending):
					losses.Add(1)
				default:
					t.Errorf("UpdateStatus() unexpected error = %v", err)
				}
			}(i)
		}
		wg.Wait()

		if wins.Load() != 1 || losses.Load() != 7 {
			t.Errorf("wins = %d, losses = %d; want 1 and 7", wins.Load(), losses.Load())
		}
	})
}

func TestListByStatusOrdering(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo StoryRepository) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c", "d"} {
			if err := repo.Create(ctx, pendingStory(id, time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("Create(%s) error = %v", id, err)
			}
		}

		// Approve in the reverse order of creation.
		if _, err := repo.UpdateStatus(ctx, "c", domain.StatusApproved, base.Add(time.Hour), "Nikos"); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.UpdateStatus(ctx, "a", domain.StatusApproved, base.Add(2*time.Hour), "Nikos"); err != nil {
			t.Fatal(err)
		}

		pending, err := repo.ListByStatus(ctx, domain.StatusPending, 0)
		if err != nil {
			t.Fatalf("ListByStatus(pending) error = %v", err)
		}
		if ids := storyIDs(pending); ids != "d,b" {
			t.Errorf("pending order = %s, want d,b", ids)
		}

		approved, err := repo.ListByStatus(ctx, domain.StatusApproved, 0)
		if err != nil {
			t.Fatalf("ListByStatus(approved) error = %v", err)
		}
		if ids := storyIDs(approved); ids != "a,c" {
			t.Errorf("approved order = %s, want a,c", ids)
		}

		limited, err := repo.ListByStatus(ctx, domain.StatusApproved, 1)
		if err != nil {
			t.Fatal(err)
		}
		if ids := storyIDs(limited); ids != "a" {
			t.Errorf("limited approved = %s, want a", ids)
		}

		rejected, err := repo.ListByStatus(ctx, domain.StatusRejected, 10)
		if err != nil || len(rejected) != 0 {
			t.Errorf("ListByStatus(rejected) = %v, %v", rejected, err)
		}
	})
}

func TestCountByStatus(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo StoryRepository) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c"} {
			if err := repo.Create(ctx, pendingStory(id, time.Duration(i)*time.Second)); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := repo.UpdateStatus(ctx, "a", domain.StatusApproved, base, "Nikos"); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.UpdateStatus(ctx, "b", domain.StatusRejected, base, "Eva"); err != nil {
			t.Fatal(err)
		}

		counts, err := repo.CountByStatus(ctx)
		if err != nil {
			t.Fatalf("CountByStatus() error = %v", err)
		}
		want := map[domain.StoryStatus]int64{
			domain.StatusPending:  1,
			domain.StatusApproved: 1,
			domain.StatusRejected: 1,
		}
		for status, n := range want {
			if counts[status] != n {
				t.Errorf("count[%s] = %d, want %d", status, counts[status], n)
			}
		}
	})
}

func storyIDs(stories []domain.Story) string {
	ids := make([]string, len(stories))
	for i, s := range stories {
		ids[i] = s.ID
	}
	return strings.Join(ids, ",")
}

func TestCountByStatusReportsStoreErrors(t *testing.T) {
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:   "sqlite",
		FilePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	defer database.Close(db)

	// No migration: the stories table does not exist.
	repo := NewGormStoryRepository(db)
	if _, err := repo.CountByStatus(context.Background()); err == nil {
		t.Error("Expected CountByStatus() to fail without a stories table")
	}
}
