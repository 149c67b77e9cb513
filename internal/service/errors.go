package service

import (
	"errors"
	"fmt"

	"github.com/StergiosCha/perpatame/internal/domain"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrTransformation = errors.New("transformation failed")
	ErrNotFound       = errors.New("story not found")
	ErrAlreadyDecided = errors.New("story already decided")
	ErrNoSpeech       = errors.New("no speech recognized")
	ErrUnavailable    = errors.New("service unavailable")
)

// AlreadyDecidedError is returned when a decision conflicts with the
// story's final state. It carries the story as it stands.
type AlreadyDecidedError struct {
	Story *domain.Story
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("story %s already %s by %s", e.Story.ID, e.Story.Status, e.Story.DecidedBy)
}

func (e *AlreadyDecidedError) Unwrap() error {
	return ErrAlreadyDecided
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
