// Package apperr defines the machine-readable failures the room and quiz core
// report to its callers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindForbidden   Kind = "forbidden"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Error carries a kind, a stable code and a human message. Two errors match
// under errors.Is when their codes are equal, so a sentinel still matches
// after a cause has been attached with Wrap.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidCode        = newError(KindValidation, "INVALID_CODE", "invalid room code format")
	ErrInvalidDisplayName = newError(KindValidation, "INVALID_DISPLAY_NAME", "display name must be between 2 and 20 characters")
	ErrInvalidPlayerID    = newError(KindValidation, "INVALID_PLAYER_ID", "player id is required")
	ErrInvalidChoiceIndex = newError(KindValidation, "INVALID_CHOICE_INDEX", "choice index must be between 0 and 3")
	ErrInvalidQuestion    = newError(KindValidation, "INVALID_QUESTION", "question needs text and exactly four choices")
	ErrInvalidEvent       = newError(KindValidation, "INVALID_EVENT", "malformed event")
	ErrInvalidRequest     = newError(KindValidation, "INVALID_REQUEST", "malformed request body")

	ErrRoomNotFound    = newError(KindNotFound, "ROOM_NOT_FOUND", "room not found")
	ErrSessionNotFound = newError(KindNotFound, "SESSION_NOT_FOUND", "quiz session not found")
	ErrRoundNotFound   = newError(KindNotFound, "ROUND_NOT_FOUND", "quiz round not found")

	ErrRoomNotAcceptingPlayers = newError(KindConflict, "ROOM_NOT_ACCEPTING_PLAYERS", "room is not accepting new players")
	ErrCodeGenerationExhausted = newError(KindConflict, "CODE_GENERATION_EXHAUSTED", "failed to generate unique room code, please try again")
	ErrInvalidRoundNumber      = newError(KindConflict, "INVALID_ROUND_NUMBER", "round number must follow the current round")
	ErrRoundLocked             = newError(KindConflict, "ROUND_LOCKED", "round is no longer accepting answers")
	ErrAlreadyRevealed         = newError(KindConflict, "ALREADY_REVEALED", "round has already been revealed")
	ErrSessionNotRunning       = newError(KindConflict, "SESSION_NOT_RUNNING", "quiz session is not running")

	ErrNotHost   = newError(KindForbidden, "NOT_HOST", "only the host may do that")
	ErrNotMember = newError(KindForbidden, "NOT_MEMBER", "player is not a member of this room")

	ErrPersistenceUnavailable = newError(KindUnavailable, "PERSISTENCE_UNAVAILABLE", "storage is unavailable")
	ErrRateLimited            = newError(KindUnavailable, "RATE_LIMITED", "too many messages, slow down")
)

// Wrap attaches cause to a copy of base.
func Wrap(base *Error, cause error) error {
	if cause == nil {
		return base
	}
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: cause}
}

// Detail returns a copy of base with a more specific message.
func Detail(base *Error, format string, args ...any) error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, or "INTERNAL" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// MessageOf returns the user-facing message of err without its cause.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
