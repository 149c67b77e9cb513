package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Websocket message types other than moderation events.
const (
	MsgTypePing           = "ping"
	MsgTypePong           = "pong"
	MsgTypeHydrate        = "hydrate"
	MsgTypeStats          = "stats"
	MsgTypeDecide         = "decide"
	MsgTypeDecisionResult = "decision_result"
	MsgTypeError          = "error"
)

// pingToken is the bare heartbeat some clients send instead of JSON.
const pingToken = "ping"

// BaseMessage is used to read the type of an inbound message.
type BaseMessage struct {
	Type string `json:"type"`
}

// ModeratorHydration is pushed to a moderator connection when it opens.
// Seq is the last event sequence reflected in the snapshot.
type ModeratorHydration struct {
	Type    string  `json:"type"`
	Channel Channel `json:"channel"`
	Seq     uint64  `json:"seq"`
	Pending []Story `json:"pending"`
	Stats   Stats   `json:"stats"`
}

// DisplayHydration is pushed to a display connection when it opens.
type DisplayHydration struct {
	Type     string  `json:"type"`
	Channel  Channel `json:"channel"`
	Seq      uint64  `json:"seq"`
	Approved []Story `json:"approved"`
	Stats    Stats   `json:"stats"`
}

// Hydration is the decoding view of either hydration message.
type Hydration struct {
	Type     string  `json:"type"`
	Channel  Channel `json:"channel"`
	Seq      uint64  `json:"seq"`
	Pending  []Story `json:"pending,omitempty"`
	Approved []Story `json:"approved,omitempty"`
	Stats    Stats   `json:"stats"`
}

// StatsMessage carries a stats snapshot.
type StatsMessage struct {
	Type string `json:"type"`
	Data Stats  `json:"data"`
}

// PongMessage answers a heartbeat.
type PongMessage struct {
	Type string `json:"type"`
}

// DecisionResultMessage answers a decide request sent over a websocket.
type DecisionResultMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Success   bool   `json:"success"`
	Story     *Story `json:"story,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ErrorMessage reports a malformed or unsupported inbound message.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, Code: code, Message: message}
}

// Inbound is a message received from a client: PingMessage or DecideMessage.
type Inbound interface {
	isInbound()
}

// PingMessage is a client heartbeat.
type PingMessage struct{}

// DecideMessage asks to approve or reject a story.
type DecideMessage struct {
	Type          string `json:"type"`
	RequestID     string `json:"request_id"`
	StoryID       string `json:"story_id"`
	Action        string `json:"action"`
	ModeratorName string `json:"moderator_name"`
}

func (PingMessage) isInbound()   {}
func (DecideMessage) isInbound() {}

// ErrUnknownMessage is returned for inbound messages of an unknown type.
var ErrUnknownMessage = errors.New("unknown message type")

// ParseInbound decodes a client message. The bare text "ping" is a heartbeat.
func ParseInbound(raw []byte) (Inbound, error) {
	trimmed := bytes.TrimSpace(raw)
	if string(trimmed) == pingToken {
		return PingMessage{}, nil
	}

	var base BaseMessage
	if err := json.Unmarshal(trimmed, &base); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	switch base.Type {
	case MsgTypePing:
		return PingMessage{}, nil
	case MsgTypeDecide:
		var m DecideMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("invalid decide message: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, base.Type)
	}
}
