package service

import (
	"context"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/hub"
)

// StoryService is the moderation queue: it owns every status change of
// a story and tells connected clients about it.
type StoryService interface {
	Submit(ctx context.Context, req *domain.SubmitRequest) (*domain.Story, error)
	Preview(ctx context.Context, req *domain.SubmitRequest) (*domain.Transformation, error)
	Decide(ctx context.Context, storyID, action, moderator string) (*domain.Story, error)
	ListPending(ctx context.Context) ([]domain.Story, error)
	ListApproved(ctx context.Context, limit int) ([]domain.Story, error)
	SnapshotStats() domain.Stats

	Subscribe(c *hub.Client) error
	Unsubscribe(c *hub.Client)

	ApplyRemote(ctx context.Context, e domain.Event) error
	Start(ctx context.Context) error
}

// TranscriptionService turns uploaded recordings into text.
type TranscriptionService interface {
	Transcribe(ctx context.Context, audio []byte, filename, contentType string) (*domain.Transcription, error)
}

// Dispatcher delivers serialized messages to live connections.
type Dispatcher interface {
	Attach(c *hub.Client, hydrate []byte) error
	Publish(ch domain.Channel, payload []byte) int
	Detach(c *hub.Client)
}

// Forwarder receives every locally originated event, for delivery to
// other instances.
type Forwarder interface {
	Forward(e domain.Event)
}
