package domain

import (
	"encoding/json"
	"fmt"
)

// Channel partitions live connections by audience.
type Channel string

const (
	ChannelModerator Channel = "moderator"
	ChannelDisplay   Channel = "display"
)

// AllChannels lists every channel.
var AllChannels = []Channel{ChannelModerator, ChannelDisplay}

// EventType is the wire name of a moderation event.
type EventType string

const (
	EventSubmissionCreated EventType = "submission_created"
	EventStoryApproved     EventType = "story_approved"
	EventStoryRejected     EventType = "story_rejected"
)

// Event is a state change in the moderation queue. The variants are
// SubmissionCreated, StoryApproved and StoryRejected; each carries the
// full story as of the change and a per-process sequence number.
type Event interface {
	Type() EventType
	Sequence() uint64
	Snapshot() Story
	isEvent()
}

// SubmissionCreated is emitted when a new story enters the pending queue.
type SubmissionCreated struct {
	Seq   uint64
	Story Story
}

// StoryApproved is emitted when a pending story is approved.
type StoryApproved struct {
	Seq   uint64
	Story Story
}

// StoryRejected is emitted when a pending story is rejected.
type StoryRejected struct {
	Seq   uint64
	Story Story
}

func (SubmissionCreated) Type() EventType { return EventSubmissionCreated }
func (StoryApproved) Type() EventType     { return EventStoryApproved }
func (StoryRejected) Type() EventType     { return EventStoryRejected }

func (e SubmissionCreated) Sequence() uint64 { return e.Seq }
func (e StoryApproved) Sequence() uint64     { return e.Seq }
func (e StoryRejected) Sequence() uint64     { return e.Seq }

func (e SubmissionCreated) Snapshot() Story { return e.Story }
func (e StoryApproved) Snapshot() Story     { return e.Story }
func (e StoryRejected) Snapshot() Story     { return e.Story }

func (SubmissionCreated) isEvent() {}
func (StoryApproved) isEvent()     {}
func (StoryRejected) isEvent()     {}

// NewEvent builds the variant named by t.
func NewEvent(t EventType, seq uint64, s Story) (Event, error) {
	switch t {
	case EventSubmissionCreated:
		return SubmissionCreated{Seq: seq, Story: s}, nil
	case EventStoryApproved:
		return StoryApproved{Seq: seq, Story: s}, nil
	case EventStoryRejected:
		return StoryRejected{Seq: seq, Story: s}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

// DecisionEvent builds the event for a story that just reached a final status.
func DecisionEvent(seq uint64, s Story) (Event, error) {
	switch s.Status {
	case StatusApproved:
		return StoryApproved{Seq: seq, Story: s}, nil
	case StatusRejected:
		return StoryRejected{Seq: seq, Story: s}, nil
	default:
		return nil, fmt.Errorf("story %s is not decided", s.ID)
	}
}

// Resequence returns e carrying seq instead of its own sequence number.
func Resequence(e Event, seq uint64) Event {
	switch ev := e.(type) {
	case SubmissionCreated:
		ev.Seq = seq
		return ev
	case StoryApproved:
		ev.Seq = seq
		return ev
	case StoryRejected:
		ev.Seq = seq
		return ev
	default:
		panic(fmt.Sprintf("domain: unhandled event %T", e))
	}
}

// Route lists the channels an event is delivered on. Moderators see
// every change to the queue; displays only see approvals.
func Route(e Event) []Channel {
	switch e.(type) {
	case SubmissionCreated:
		return []Channel{ChannelModerator}
	case StoryApproved:
		return []Channel{ChannelModerator, ChannelDisplay}
	case StoryRejected:
		return []Channel{ChannelModerator}
	default:
		panic(fmt.Sprintf("domain: unhandled event %T", e))
	}
}

// Envelope is the wire form of an Event.
type Envelope struct {
	Type EventType `json:"type"`
	Seq  uint64    `json:"seq"`
	Data Story     `json:"data"`
}

// EnvelopeOf wraps e for the wire.
func EnvelopeOf(e Event) Envelope {
	return Envelope{Type: e.Type(), Seq: e.Sequence(), Data: e.Snapshot()}
}

// Event decodes the envelope back into its variant.
func (env Envelope) Event() (Event, error) {
	return NewEvent(env.Type, env.Seq, env.Data)
}

// MarshalEvent encodes e as an Envelope.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(EnvelopeOf(e))
}

// IsEventType reports whether t names an Event variant.
func IsEventType(t string) bool {
	switch EventType(t) {
	case EventSubmissionCreated, EventStoryApproved, EventStoryRejected:
		return true
	}
	return false
}
