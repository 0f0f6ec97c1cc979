package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomFull             = errors.New("room is full")
	ErrNotInRoom            = errors.New("not in a room")
	ErrEmptyMessage         = errors.New("message body is empty")
	ErrMessageTooLong       = errors.New("message body is too long")
	ErrInvalidKind          = errors.New("invalid message kind")
	ErrInvalidEvent         = errors.New("invalid presence event")
	ErrInvalidQuiz          = errors.New("quiz is not valid JSON")
	ErrRejectedByModeration = errors.New("rejected by moderation")
	ErrPersistenceFailure   = errors.New("message could not be persisted")
	ErrInterventionsOff     = errors.New("interventions are disabled")
	ErrRegistryClosed       = errors.New("room registry is closed")
)

// RejectionError carries the user-facing text of a tier-1 verdict. It
// matches ErrRejectedByModeration under errors.Is.
type RejectionError struct {
	Text string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejectedByModeration, e.Text)
}

func (e *RejectionError) Unwrap() error {
	return ErrRejectedByModeration
}
