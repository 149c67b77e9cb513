// Package audit writes the moderation trail: who submitted, who decided
// what, and which connections came and went.
package audit

import (
	"context"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/pkg/log"
)

// Story submitted and pending.
func Submitted(ctx context.Context, s *domain.Story) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(log.FieldStoryID, s.ID).
		Str("author", s.AuthorName).
		Str("style", s.Style).
		Msg("story.submit")
}

// Decided records an applied approve or reject.
func Decided(ctx context.Context, s *domain.Story) {
	l := log.Ctx(ctx)
	msg := "story.reject"
	if s.Status == domain.StatusApproved {
		msg = "story.approve"
	}
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(log.FieldStoryID, s.ID).
		Str(log.FieldModerator, s.DecidedBy).
		Msg(msg)
}

// Conflict records a decision refused because the story was already decided.
func Conflict(ctx context.Context, moderator string, action domain.Action, current *domain.Story) {
	l := log.Ctx(ctx)
	l.Warn().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(log.FieldStoryID, current.ID).
		Str(log.FieldModerator, moderator).
		Str(log.FieldAction, string(action)).
		Str("current_status", string(current.Status)).
		Str("decided_by", current.DecidedBy).
		Msg("story.decide_conflict")
}

// Connected records a websocket joining a channel.
func Connected(connID string, channel domain.Channel, moderator string) {
	l := log.L()
	evt := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(log.FieldConnID, connID).
		Str(log.FieldChannel, string(channel))
	if moderator != "" {
		evt = evt.Str(log.FieldModerator, moderator)
	}
	evt.Msg("ws.connect")
}

// Disconnected records a websocket leaving.
func Disconnected(connID string, channel domain.Channel) {
	l := log.L()
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(log.FieldConnID, connID).
		Str(log.FieldChannel, string(channel)).
		Msg("ws.disconnect")
}
