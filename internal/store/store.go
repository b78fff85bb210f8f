// Package store is the persistence gateway for rooms, members and quiz
// records. The room and quiz core depend only on the Store interface.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrConstraint  = errors.New("constraint violation")
	ErrUnavailable = errors.New("persistence unavailable")
)

// Store is implemented by every backend. Any method may fail with
// ErrUnavailable; lookups fail with ErrNotFound and writes that would break a
// uniqueness rule fail with ErrConstraint.
type Store interface {
	// CreateRoom fails with ErrConstraint if a non-closed room already uses
	// the same code.
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	// FindActiveRoom returns the non-closed room with the given code.
	FindActiveRoom(ctx context.Context, code string) (Room, error)
	SetRoomStatus(ctx context.Context, id string, status RoomStatus) error
	DeleteRoom(ctx context.Context, id string) error

	// AddMember fails with ErrConstraint if the player is already a member.
	AddMember(ctx context.Context, member Member) error
	GetMember(ctx context.Context, roomID, playerID string) (Member, error)
	RenameMember(ctx context.Context, roomID, playerID, displayName string) error
	// RemoveMember reports whether a row was deleted.
	RemoveMember(ctx context.Context, roomID, playerID string) (bool, error)
	// ListMembers orders by join time, oldest first.
	ListMembers(ctx context.Context, roomID string) ([]Member, error)

	// CreateSession fails with ErrConstraint if the room already has a
	// running session.
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	FindRunningSession(ctx context.Context, roomID string) (Session, error)
	// UpdateSession writes status, current_round and ended_at.
	UpdateSession(ctx context.Context, session Session) error

	// AppendRound inserts the round and advances the session's current_round
	// to round.RoundNo in one step. It fails with ErrConstraint unless
	// current_round was round.RoundNo-1.
	AppendRound(ctx context.Context, round Round) error
	GetRound(ctx context.Context, id string) (Round, error)
	// ListRounds orders by round number.
	ListRounds(ctx context.Context, sessionID string) ([]Round, error)
	// LockRound sets locked_at if unset and reports whether it did.
	LockRound(ctx context.Context, id string, at time.Time) (bool, error)
	// RevealRound sets revealed_at (and locked_at if unset), marks every
	// answer of the round and returns them, all or nothing. It fails with
	// ErrConstraint if the round was already revealed.
	RevealRound(ctx context.Context, id string, correctIndex int, at time.Time) ([]Answer, error)

	// UpsertAnswer keeps one row per (round, player); a resubmission
	// replaces choice, name and submission time.
	UpsertAnswer(ctx context.Context, answer Answer) (Answer, error)
	// ListAnswers orders by submission time.
	ListAnswers(ctx context.Context, roundID string) ([]Answer, error)
	ListSessionAnswers(ctx context.Context, sessionID string) ([]Answer, error)

	Close() error
}
