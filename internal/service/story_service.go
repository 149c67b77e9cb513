package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/StergiosCha/perpatame/internal/audit"
	"github.com/StergiosCha/perpatame/internal/client"
	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/hub"
	"github.com/StergiosCha/perpatame/internal/idgen"
	"github.com/StergiosCha/perpatame/internal/metrics"
	"github.com/StergiosCha/perpatame/internal/repository"
	"github.com/StergiosCha/perpatame/pkg/log"
)

const (
	originLocal  = "local"
	originRemote = "remote"
)

// Config tunes the story service.
type Config struct {
	DisplayLimit  int
	MinLength     int
	MaxLength     int
	DecideTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DisplayLimit:  20,
		MinLength:     10,
		MaxLength:     2000,
		DecideTimeout: 10 * time.Second,
	}
}

// storyService implements StoryService.
//
// The store is the source of truth. pending, approved and stats are
// caches rebuilt by Start and kept current by every transition. mu is
// held while a transition updates the caches and publishes, and while a
// new connection is hydrated and attached, so a hydration snapshot never
// misses or repeats an event.
type storyService struct {
	repo        repository.StoryRepository
	transformer client.Transformer
	filter      *client.ContentFilter
	ids         idgen.Generator
	dispatcher  Dispatcher
	forwarder   Forwarder
	cfg         Config
	now         func() time.Time

	locks *keyedMutex
	stats *Aggregator

	mu       sync.Mutex
	seq      uint64
	pending  map[string]domain.Story
	approved []domain.Story
}

// NewStoryService creates the moderation queue. forwarder may be nil.
func NewStoryService(
	repo repository.StoryRepository,
	transformer client.Transformer,
	filter *client.ContentFilter,
	ids idgen.Generator,
	dispatcher Dispatcher,
	forwarder Forwarder,
	cfg Config,
) StoryService {
	return newStoryService(repo, transformer, filter, ids, dispatcher, forwarder, cfg)
}

func newStoryService(
	repo repository.StoryRepository,
	transformer client.Transformer,
	filter *client.ContentFilter,
	ids idgen.Generator,
	dispatcher Dispatcher,
	forwarder Forwarder,
	cfg Config,
) *storyService {
	def := DefaultConfig()
	if cfg.DisplayLimit <= 0 {
		cfg.DisplayLimit = def.DisplayLimit
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength < cfg.MinLength {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.DecideTimeout <= 0 {
		cfg.DecideTimeout = def.DecideTimeout
	}
	return &storyService{
		repo:        repo,
		transformer: transformer,
		filter:      filter,
		ids:         ids,
		dispatcher:  dispatcher,
		forwarder:   forwarder,
		cfg:         cfg,
		now:         time.Now,
		locks:       newKeyedMutex(),
		stats:       NewAggregator(),
		pending:     make(map[string]domain.Story),
	}
}

// Start rebuilds the caches from the store.
func (s *storyService) Start(ctx context.Context) error {
	pending, err := s.repo.ListByStatus(ctx, domain.StatusPending, 0)
	if err != nil {
		return fmt.Errorf("load pending stories: %w", err)
	}
	approved, err := s.repo.ListByStatus(ctx, domain.StatusApproved, s.cfg.DisplayLimit)
	if err != nil {
		return fmt.Errorf("load approved stories: %w", err)
	}
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count stories: %w", err)
	}

	s.mu.Lock()
	s.pending = make(map[string]domain.Story, len(pending))
	for _, st := range pending {
		s.pending[st.ID] = st
	}
	s.approved = approved
	s.stats.Reset(counts)
	s.mu.Unlock()

	l := log.Ctx(ctx)
	l.Info().
		Int("pending", len(pending)).
		Int("approved_cached", len(approved)).
		Msg("moderation queue loaded")
	return nil
}

func (s *storyService) prepare(req *domain.SubmitRequest) (string, string, error) {
	if req == nil {
		return "", "", invalid("empty request")
	}
	text, n := domain.NormalizeText(req.Text)
	if n < s.cfg.MinLength {
		return "", "", invalid("text must be at least %d characters", s.cfg.MinLength)
	}
	if n > s.cfg.MaxLength {
		return "", "", invalid("text must be at most %d characters", s.cfg.MaxLength)
	}
	if !s.filter.Relevant(text) {
		return "", "", fmt.Errorf("%w: text does not look like a personal story", ErrTransformation)
	}
	return text, domain.NormalizeStyle(req.TransformationStyle), nil
}

func (s *storyService) transform(ctx context.Context, text, style string) (*domain.Transformation, error) {
	t, err := s.transformer.Transform(ctx, text, style)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransformation, err)
	}
	if strings.TrimSpace(t.TransformedText) == "" {
		return nil, fmt.Errorf("%w: empty transformed text", ErrTransformation)
	}
	if t.Theme == nil {
		t.Theme = client.ThemeFor(text)
	}
	t.QualityScore = client.QualityScore(text, t.TransformedText)
	return t, nil
}

// Preview runs the transformation without creating a story.
func (s *storyService) Preview(ctx context.Context, req *domain.SubmitRequest) (*domain.Transformation, error) {
	text, style, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	return s.transform(ctx, text, style)
}

// Submit transforms the text and queues the result for moderation.
func (s *storyService) Submit(ctx context.Context, req *domain.SubmitRequest) (*domain.Story, error) {
	l := log.Ctx(ctx)

	text, style, err := s.prepare(req)
	if err != nil {
		outcome := "invalid"
		if errors.Is(err, ErrTransformation) {
			outcome = "off_topic"
		}
		metrics.Submission(outcome)
		return nil, err
	}

	t, err := s.transform(ctx, text, style)
	if err != nil {
		metrics.Submission("transform_failed")
		l.Warn().Err(err).Msg("submission transformation failed")
		return nil, err
	}

	id, err := s.ids.Generate()
	if err != nil {
		metrics.Submission("error")
		return nil, err
	}

	story := &domain.Story{
		ID:              id,
		OriginalText:    text,
		TransformedText: strings.TrimSpace(t.TransformedText),
		AuthorName:      strings.TrimSpace(req.AuthorName),
		Style:           style,
		Theme:           t.Theme,
		Comment:         t.Comment,
		Status:          domain.StatusPending,
		CreatedAt:       s.now().UTC(),
	}

	// The story must be announced before anyone can decide it.
	unlock := s.locks.Lock(id)
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	if err := s.repo.Create(ctx, story); err != nil {
		metrics.Submission("error")
		l.Error().Err(err).Str(log.FieldStoryID, id).Msg("failed to persist story")
		return nil, err
	}

	s.mu.Lock()
	s.pending[story.ID] = story.Clone()
	stats := s.stats.Submitted()
	ev := s.emitLocked(domain.SubmissionCreated{Story: story.Clone()}, stats, originLocal)
	s.mu.Unlock()

	s.forward(ev)
	metrics.Submission("created")
	audit.Submitted(ctx, story)
	l.Debug().
		Str(log.FieldStoryID, story.ID).
		Str("style", style).
		Float64("quality_score", t.QualityScore).
		Msg("story transformed")
	return story, nil
}

// Decide approves or rejects a pending story.
func (s *storyService) Decide(ctx context.Context, storyID, action, moderator string) (*domain.Story, error) {
	storyID = strings.TrimSpace(storyID)
	moderator = strings.TrimSpace(moderator)
	act, ok := domain.ParseAction(action)
	switch {
	case storyID == "":
		return nil, invalid("story_id is required")
	case !ok:
		return nil, invalid("action must be approve or reject")
	case moderator == "":
		return nil, invalid("moderator_name is required")
	}

	ctx = log.With(ctx, log.FieldModerator, moderator)
	l := log.Ctx(ctx)

	// A decision runs to completion even if the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DecideTimeout)
	defer cancel()

	unlock := s.locks.Lock(storyID)
	defer unlock()

	current, err := s.repo.GetByID(ctx, storyID)
	if err != nil {
		return nil, s.decideFailed(act, err)
	}
	if current.Status.Final() {
		return s.resolveDecided(ctx, current, act, moderator)
	}

	updated, err := s.repo.UpdateStatus(ctx, storyID, act.Target(), s.now(), moderator)
	switch {
	case errors.Is(err, repository.ErrStoryNotPending):
		// Decided through another instance sharing the store.
		if current, err = s.repo.GetByID(ctx, storyID); err != nil {
			return nil, s.decideFailed(act, err)
		}
		return s.resolveDecided(ctx, current, act, moderator)
	case err != nil:
		// The write may have committed before the error surfaced.
		after, ok := s.committed(ctx, storyID, act, moderator)
		if !ok {
			return nil, s.decideFailed(act, err)
		}
		l.Warn().Err(err).Str(log.FieldStoryID, storyID).Msg("decision committed despite store error")
		updated = after
	}

	ev, err := domain.DecisionEvent(0, updated.Clone())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.pending, updated.ID)
	if updated.Status == domain.StatusApproved {
		s.pushApprovedLocked(updated.Clone())
	}
	stats := s.stats.Transition(updated.Status)
	ev = s.emitLocked(ev, stats, originLocal)
	s.mu.Unlock()

	s.forward(ev)
	metrics.Decision(string(act), "applied")
	audit.Decided(ctx, updated)
	l.Debug().Str(log.FieldStoryID, updated.ID).Uint64(log.FieldSeq, ev.Sequence()).Msg("decision applied")
	return updated, nil
}

// committed re-reads a story after a failed update and reports whether
// the store holds exactly this decision.
func (s *storyService) committed(ctx context.Context, storyID string, act domain.Action, moderator string) (*domain.Story, bool) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DecideTimeout)
	defer cancel()

	st, err := s.repo.GetByID(rctx, storyID)
	if err != nil || st.Status != act.Target() || st.DecidedBy != moderator {
		return nil, false
	}
	return st, true
}

// resolveDecided handles a decision on a story that is already final.
// Repeating the exact decision succeeds without a new event.
func (s *storyService) resolveDecided(ctx context.Context, current *domain.Story, act domain.Action, moderator string) (*domain.Story, error) {
	s.evictDecided(ctx, current)

	if current.Status == act.Target() && current.DecidedBy == moderator {
		metrics.Decision(string(act), "idempotent")
		return current, nil
	}
	metrics.Decision(string(act), "conflict")
	audit.Conflict(ctx, moderator, act, current)
	return nil, &AlreadyDecidedError{Story: current}
}

// evictDecided drops a final story that is still cached as pending,
// refreshes the counters from the store and announces the decision the
// cache missed.
func (s *storyService) evictDecided(ctx context.Context, current *domain.Story) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[current.ID]; !ok {
		return
	}
	delete(s.pending, current.ID)
	if current.Status == domain.StatusApproved {
		s.pushApprovedLocked(current.Clone())
	}

	l := log.Ctx(ctx)
	if counts, err := s.repo.CountByStatus(ctx); err != nil {
		l.Warn().Err(err).Msg("failed to refresh counts after evicting decided story")
	} else {
		s.stats.Reset(counts)
	}

	ev, err := domain.DecisionEvent(0, current.Clone())
	if err != nil {
		return
	}
	s.emitLocked(ev, s.stats.Snapshot(), originLocal)
	l.Info().Str(log.FieldStoryID, current.ID).Str("status", string(current.Status)).Msg("evicted decided story from pending cache")
}

func (s *storyService) decideFailed(act domain.Action, err error) error {
	if errors.Is(err, repository.ErrStoryNotFound) {
		metrics.Decision(string(act), "not_found")
		return ErrNotFound
	}
	metrics.Decision(string(act), "error")
	return err
}

// pushApprovedLocked keeps the newest approved stories, newest first.
func (s *storyService) pushApprovedLocked(st domain.Story) {
	for _, a := range s.approved {
		if a.ID == st.ID {
			return
		}
	}
	s.approved = append([]domain.Story{st}, s.approved...)
	if len(s.approved) > s.cfg.DisplayLimit {
		s.approved = s.approved[:s.cfg.DisplayLimit]
	}
}

// emitLocked stamps e with the next sequence number and publishes it
// followed by the new stats. Must be called with mu held.
func (s *storyService) emitLocked(e domain.Event, stats domain.Stats, origin string) domain.Event {
	s.seq++
	e = domain.Resequence(e, s.seq)

	payload, err := domain.MarshalEvent(e)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldEvent, string(e.Type())).Msg("failed to encode event")
		return e
	}
	for _, ch := range domain.Route(e) {
		s.dispatcher.Publish(ch, payload)
	}
	metrics.EventPublished(string(e.Type()), origin)

	if data, err := json.Marshal(domain.StatsMessage{Type: domain.MsgTypeStats, Data: stats}); err == nil {
		for _, ch := range domain.AllChannels {
			s.dispatcher.Publish(ch, data)
		}
	}
	return e
}

func (s *storyService) forward(e domain.Event) {
	if s.forwarder != nil {
		s.forwarder.Forward(e)
	}
}

// ApplyRemote folds an event that originated on another instance into
// the caches and delivers it to local connections. Counters are re-read
// from the shared store since the remote transition is already there.
func (s *storyService) ApplyRemote(ctx context.Context, e domain.Event) error {
	st := e.Snapshot()

	unlock := s.locks.Lock(st.ID)
	defer unlock()

	// Events from different instances may arrive out of order, so a
	// creation is only cached while the store still holds it as pending.
	if _, ok := e.(domain.SubmissionCreated); ok {
		stored, err := s.repo.GetByID(ctx, st.ID)
		if err != nil {
			return fmt.Errorf("check remote story %s: %w", st.ID, err)
		}
		if stored.Status != domain.StatusPending {
			l := log.Ctx(ctx)
			l.Debug().Str(log.FieldStoryID, st.ID).Str("status", string(stored.Status)).Msg("skipping late remote submission")
			return nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.(type) {
	case domain.SubmissionCreated:
		if _, ok := s.pending[st.ID]; ok {
			return nil
		}
		s.pending[st.ID] = st.Clone()
	case domain.StoryApproved:
		delete(s.pending, st.ID)
		s.pushApprovedLocked(st.Clone())
	case domain.StoryRejected:
		delete(s.pending, st.ID)
	default:
		return fmt.Errorf("unhandled event %T", e)
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to refresh counts after remote event")
	} else {
		s.stats.Reset(counts)
	}

	s.emitLocked(e, s.stats.Snapshot(), originRemote)
	return nil
}

// ListPending returns pending stories, newest first.
func (s *storyService) ListPending(ctx context.Context) ([]domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked(), nil
}

func (s *storyService) pendingLocked() []domain.Story {
	out := make([]domain.Story, 0, len(s.pending))
	for _, st := range s.pending {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *storyService) approvedLocked() []domain.Story {
	out := make([]domain.Story, len(s.approved))
	for i, st := range s.approved {
		out[i] = st.Clone()
	}
	return out
}

// ListApproved returns approved stories, most recently decided first.
func (s *storyService) ListApproved(ctx context.Context, limit int) ([]domain.Story, error) {
	return s.repo.ListByStatus(ctx, domain.StatusApproved, limit)
}

func (s *storyService) SnapshotStats() domain.Stats {
	return s.stats.Snapshot()
}

// Subscribe hydrates c for its channel and attaches it. Events published
// after the snapshot are delivered after the hydration message.
func (s *storyService) Subscribe(c *hub.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msg any
	switch c.Channel {
	case domain.ChannelModerator:
		msg = domain.ModeratorHydration{
			Type:    domain.MsgTypeHydrate,
			Channel: c.Channel,
			Seq:     s.seq,
			Pending: s.pendingLocked(),
			Stats:   s.stats.Snapshot(),
		}
	case domain.ChannelDisplay:
		msg = domain.DisplayHydration{
			Type:     domain.MsgTypeHydrate,
			Channel:  c.Channel,
			Seq:      s.seq,
			Approved: s.approvedLocked(),
			Stats:    s.stats.Snapshot(),
		}
	default:
		return hub.ErrUnknownChannel
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.dispatcher.Attach(c, data)
}

func (s *storyService) Unsubscribe(c *hub.Client) {
	s.dispatcher.Detach(c)
}
