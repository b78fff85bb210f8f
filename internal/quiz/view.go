package quiz

import (
	"context"
	"errors"
	"time"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/identity"
	"github.com/Nevug030/ShababsHub/internal/store"
)

type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseAnswering Phase = "answering"
	PhaseLocked    Phase = "locked"
	PhaseRevealing Phase = "revealing"
	PhaseEnded     Phase = "ended"
)

// RoundView is a round as players may see it: the correct index stays hidden
// until the reveal.
type RoundView struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	RoundNo      int        `json:"round_no"`
	QuestionText string     `json:"question_text"`
	Choices      []string   `json:"choices"`
	StartedAt    time.Time  `json:"started_at"`
	Deadline     time.Time  `json:"deadline"`
	LockedAt     *time.Time `json:"locked_at,omitempty"`
	RevealedAt   *time.Time `json:"revealed_at,omitempty"`
	CorrectIndex *int       `json:"correct_index,omitempty"`
}

func viewOf(r store.Round) *RoundView {
	v := &RoundView{
		ID:           r.ID,
		SessionID:    r.SessionID,
		RoundNo:      r.RoundNo,
		QuestionText: r.QuestionText,
		Choices:      r.Choices,
		StartedAt:    r.StartedAt,
		Deadline:     r.Deadline,
		LockedAt:     r.LockedAt,
		RevealedAt:   r.RevealedAt,
	}
	if r.RevealedAt != nil {
		correct := r.CorrectIndex
		v.CorrectIndex = &correct
	}
	return v
}

// Snapshot is enough for a reconnecting client to redraw the game.
type Snapshot struct {
	Status        store.SessionStatus `json:"status"`
	Phase         Phase               `json:"phase"`
	Session       *store.Session      `json:"session,omitempty"`
	Round         *RoundView          `json:"round,omitempty"`
	AnsweredCount int                 `json:"answered_count"`
	Scores        []PlayerScore       `json:"scores"`
}

func phaseOf(sess store.Session, round *store.Round, now time.Time) Phase {
	switch {
	case sess.Status == store.SessionEnded:
		return PhaseEnded
	case round == nil:
		return PhaseWaiting
	case round.RevealedAt != nil:
		return PhaseRevealing
	case round.Closed(now):
		return PhaseLocked
	}
	return PhaseAnswering
}

// Current describes the room's running session, if any.
func (m *Machine) Current(ctx context.Context, roomID string) (Snapshot, error) {
	room, err := m.store.GetRoom(ctx, roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Snapshot{}, apperr.ErrRoomNotFound
	case err != nil:
		return Snapshot{}, unavailable(err)
	case room.Status == store.RoomClosed:
		return Snapshot{}, apperr.ErrRoomNotFound
	}

	sess, err := m.store.FindRunningSession(ctx, roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Snapshot{Status: store.SessionIdle, Phase: PhaseWaiting, Scores: []PlayerScore{}}, nil
	case err != nil:
		return Snapshot{}, unavailable(err)
	}

	out := Snapshot{Status: sess.Status, Session: &sess}

	var current *store.Round
	if sess.CurrentRound > 0 {
		rounds, err := m.store.ListRounds(ctx, sess.ID)
		if err != nil {
			return Snapshot{}, unavailable(err)
		}
		for i := range rounds {
			if rounds[i].RoundNo == sess.CurrentRound {
				current = &rounds[i]
			}
		}
	}

	if current != nil {
		out.Round = viewOf(*current)
		answers, err := m.store.ListAnswers(ctx, current.ID)
		if err != nil {
			return Snapshot{}, unavailable(err)
		}
		out.AnsweredCount = len(answers)
	}
	out.Phase = phaseOf(sess, current, m.now())

	out.Scores, err = m.standings(ctx, sess)
	if err != nil {
		return Snapshot{}, err
	}

	return out, nil
}

// Scores returns the standings of any session, running or not.
func (m *Machine) Scores(ctx context.Context, sessionID string) ([]PlayerScore, error) {
	sess, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.standings(ctx, sess)
}

// RoundAnswers lists who chose what. Before the reveal only the host may look.
func (m *Machine) RoundAnswers(ctx context.Context, roundID string, caller identity.Player) ([]store.Answer, error) {
	round, sess, err := m.loadRoundSession(ctx, roundID)
	if err != nil {
		return nil, err
	}

	if round.RevealedAt == nil {
		if err := checkCaller(caller); err != nil {
			return nil, err
		}
		if err := m.requireHost(ctx, sess.RoomID, caller.ID); err != nil {
			return nil, err
		}
	}

	answers, err := m.store.ListAnswers(ctx, roundID)
	if err != nil {
		return nil, unavailable(err)
	}
	if answers == nil {
		answers = []store.Answer{}
	}
	return answers, nil
}
