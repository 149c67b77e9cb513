// Package relay shares moderation events between instances that serve
// the same story store.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/pkg/log"
	"github.com/StergiosCha/perpatame/pkg/pubsub"
)

// Applier folds an event from another instance into local state.
type Applier interface {
	ApplyRemote(ctx context.Context, e domain.Event) error
}

// Relay publishes local events to the bus in order and applies events
// from other instances. Events tagged with this instance are skipped.
type Relay struct {
	ps         pubsub.PubSub
	channel    string
	instanceID string

	outbox chan domain.Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a relay on channel. buffer bounds how many local events
// may wait for the bus before new ones are dropped.
func New(ps pubsub.PubSub, channel, instanceID string, buffer int) *Relay {
	if channel == "" {
		channel = pubsub.DefaultChannel
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Relay{
		ps:         ps,
		channel:    channel,
		instanceID: instanceID,
		outbox:     make(chan domain.Event, buffer),
	}
}

// InstanceID returns the origin tag of this relay.
func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Forward queues a locally originated event for the bus without blocking.
func (r *Relay) Forward(e domain.Event) {
	select {
	case r.outbox <- e:
	default:
		l := log.L()
		l.Warn().
			Str(log.FieldEvent, string(e.Type())).
			Str(log.FieldStoryID, e.Snapshot().ID).
			Msg("relay outbox full, event not shared")
	}
}

// Start subscribes to the bus and begins publishing and applying events.
func (r *Relay) Start(ctx context.Context, applier Applier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	inbox, err := r.ps.Subscribe(ctx, r.channel)
	if err != nil {
		cancel()
		return err
	}

	r.cancel = cancel
	r.started = true
	r.wg.Add(2)
	go r.publishLoop(ctx)
	go r.consumeLoop(ctx, inbox, applier)

	l := log.L()
	l.Info().
		Str(log.FieldInstance, r.instanceID).
		Str(log.FieldChannel, r.channel).
		Msg("relay started")
	return nil
}

func (r *Relay) publishLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.outbox:
			r.publish(ctx, e)
		}
	}
}

func (r *Relay) publish(ctx context.Context, e domain.Event) {
	l := log.L()

	msg, err := pubsub.NewEvent(string(e.Type()), r.instanceID, domain.EnvelopeOf(e))
	if err != nil {
		l.Error().Err(err).Msg("failed to encode relay event")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.ps.Publish(pctx, r.channel, msg); err != nil {
		l.Warn().Err(err).
			Str(log.FieldEvent, msg.Type).
			Str(log.FieldStoryID, e.Snapshot().ID).
			Msg("failed to publish relay event")
	}
}

func (r *Relay) consumeLoop(ctx context.Context, inbox <-chan *pubsub.Event, applier Applier) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			r.apply(ctx, msg, applier)
		}
	}
}

func (r *Relay) apply(ctx context.Context, msg *pubsub.Event, applier Applier) {
	if msg.Origin == r.instanceID {
		return
	}
	l := log.L()
	if !domain.IsEventType(msg.Type) {
		l.Debug().Str(log.FieldEvent, msg.Type).Msg("ignoring unknown relay event")
		return
	}

	var env domain.Envelope
	if err := msg.UnmarshalPayload(&env); err != nil {
		l.Warn().Err(err).Str(log.FieldEvent, msg.Type).Msg("undecodable relay event")
		return
	}
	e, err := env.Event()
	if err != nil {
		l.Warn().Err(err).Msg("invalid relay event")
		return
	}

	if err := applier.ApplyRemote(ctx, e); err != nil {
		l.Error().Err(err).
			Str(log.FieldEvent, msg.Type).
			Str(log.FieldStoryID, env.Data.ID).
			Str("origin", msg.Origin).
			Msg("failed to apply relay event")
	}
}

// Stop stops both loops and closes the bus connection.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return r.ps.Close()
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := r.ps.Unsubscribe(ctx, r.channel); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to unsubscribe relay")
	}
	cancel()
	r.wg.Wait()
	return r.ps.Close()
}
