package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// StoryStatus is the moderation state of a story.
type StoryStatus string

const (
	StatusPending  StoryStatus = "pending"
	StatusApproved StoryStatus = "approved"
	StatusRejected StoryStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s StoryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Final reports whether s can no longer change.
func (s StoryStatus) Final() bool {
	return s == StatusApproved || s == StatusRejected
}

// Action is a moderator's decision on a pending story.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction normalizes and validates a textual action.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionApprove:
		return ActionApprove, true
	case ActionReject:
		return ActionReject, true
	}
	return "", false
}

// Target is the status a story reaches when a moderator takes a.
func (a Action) Target() StoryStatus {
	if a == ActionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Theme is the visual treatment attached to a transformed story.
type Theme struct {
	Name      string   `json:"name,omitempty"`
	Emojis    []string `json:"emojis"`
	Animation string   `json:"animation"`
	Color     string   `json:"color"`
}

// Story is a participant submission and its moderation outcome.
// DecidedAt and DecidedBy are set exactly when Status is final.
type Story struct {
	ID              string      `json:"id"`
	OriginalText    string      `json:"original_text"`
	TransformedText string      `json:"transformed_text"`
	AuthorName      string      `json:"author_name,omitempty"`
	Style           string      `json:"style,omitempty"`
	Theme           *Theme      `json:"theme,omitempty"`
	Comment         string      `json:"comment,omitempty"`
	Status          StoryStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	DecidedAt       *time.Time  `json:"decided_at,omitempty"`
	DecidedBy       string      `json:"decided_by,omitempty"`
}

// Transformation is what the transformation gateway returns for a text.
type Transformation struct {
	TransformedText string  `json:"transformed_text"`
	Theme           *Theme  `json:"theme,omitempty"`
	Comment         string  `json:"comment,omitempty"`
	Style           string  `json:"style"`
	QualityScore    float64 `json:"quality_score"`
}

// Stats are the running moderation counters.
type Stats struct {
	TotalSubmissions int64 `json:"total_submissions"`
	Pending          int64 `json:"pending"`
	Approved         int64 `json:"approved"`
	Rejected         int64 `json:"rejected"`
}

// SubmitRequest is the body of a story submission.
type SubmitRequest struct {
	Text                string `json:"text" binding:"required"`
	AuthorName          string `json:"author_name"`
	TransformationStyle string `json:"transformation_style"`
}

// ModerateRequest is the body of a moderation decision.
type ModerateRequest struct {
	StoryID       string `json:"story_id" binding:"required"`
	Action        string `json:"action" binding:"required"`
	ModeratorName string `json:"moderator_name"`
}

// Transcription is the result of speech-to-text on an uploaded recording.
type Transcription struct {
	Text      string `json:"text"`
	Language  string `json:"language"`
	ArchiveID string `json:"archive_id,omitempty"`
}

// NormalizeText trims text and reports its length in runes.
func NormalizeText(text string) (string, int) {
	text = strings.TrimSpace(text)
	return text, utf8.RuneCountInString(text)
}

// Clone returns a deep copy of s.
func (s Story) Clone() Story {
	if s.Theme != nil {
		t := *s.Theme
		t.Emojis = append([]string(nil), s.Theme.Emojis...)
		s.Theme = &t
	}
	if s.DecidedAt != nil {
		at := *s.DecidedAt
		s.DecidedAt = &at
	}
	return s
}
