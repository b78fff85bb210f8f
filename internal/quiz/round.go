package quiz

import (
	"context"
	"errors"
	"slices"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/event"
	"github.com/Nevug030/ShababsHub/internal/identity"
	"github.com/Nevug030/ShababsHub/internal/store"
)

type Revealed struct {
	Round   store.Round    `json:"round"`
	Answers []store.Answer `json:"answers"`
	Scores  []PlayerScore  `json:"scores"`
}

// StartRound opens round roundNo, which must directly follow the session's
// current round. Answers are accepted until the answer window elapses or the
// host locks the round.
func (m *Machine) StartRound(ctx context.Context, sessionID string, caller identity.Player, roundNo int, q Question) (store.Round, error) {
	if err := checkCaller(caller); err != nil {
		return store.Round{}, err
	}
	if err := q.validate(); err != nil {
		return store.Round{}, err
	}

	sess, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return store.Round{}, err
	}

	var round store.Round
	err = m.do(ctx, sess.RoomID, func(ctx context.Context) error {
		cur, err := m.runningHostSession(ctx, sessionID, caller)
		if err != nil {
			return err
		}
		round, err = m.startRound(ctx, cur, roundNo, q)
		return err
	})
	if err != nil {
		return store.Round{}, err
	}

	return round, nil
}

// NextRound announces and starts the round after the current one.
func (m *Machine) NextRound(ctx context.Context, sessionID string, caller identity.Player, q Question) (store.Round, error) {
	if err := checkCaller(caller); err != nil {
		return store.Round{}, err
	}
	if err := q.validate(); err != nil {
		return store.Round{}, err
	}

	sess, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return store.Round{}, err
	}

	var round store.Round
	err = m.do(ctx, sess.RoomID, func(ctx context.Context) error {
		cur, err := m.runningHostSession(ctx, sessionID, caller)
		if err != nil {
			return err
		}

		next := cur.CurrentRound + 1
		if next > cur.TotalRounds {
			return apperr.Detail(apperr.ErrInvalidRoundNumber, "session has only %d rounds", cur.TotalRounds)
		}
		m.publish(cur.RoomID, event.Next{SessionID: cur.ID, NextRoundNo: next})

		round, err = m.startRound(ctx, cur, next, q)
		return err
	})
	if err != nil {
		return store.Round{}, err
	}

	return round, nil
}

func (m *Machine) runningHostSession(ctx context.Context, sessionID string, caller identity.Player) (store.Session, error) {
	sess, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if err := m.requireHost(ctx, sess.RoomID, caller.ID); err != nil {
		return store.Session{}, err
	}
	if sess.Status != store.SessionRunning {
		return store.Session{}, apperr.ErrSessionNotRunning
	}
	return sess, nil
}

// startRound runs on the room's worker.
func (m *Machine) startRound(ctx context.Context, sess store.Session, roundNo int, q Question) (store.Round, error) {
	if roundNo != sess.CurrentRound+1 || roundNo > sess.TotalRounds {
		return store.Round{}, apperr.Detail(apperr.ErrInvalidRoundNumber,
			"round number must be %d (of %d), got %d", sess.CurrentRound+1, sess.TotalRounds, roundNo)
	}

	now := m.now()
	round := store.Round{
		ID:           identity.NewID(),
		SessionID:    sess.ID,
		RoundNo:      roundNo,
		QuestionText: q.Text,
		Choices:      slices.Clone(q.Choices),
		CorrectIndex: q.Correct,
		StartedAt:    now,
		Deadline:     now.Add(m.cfg.AnswerWindow),
	}

	err := m.store.AppendRound(ctx, round)
	switch {
	case errors.Is(err, store.ErrConstraint):
		return store.Round{}, apperr.ErrInvalidRoundNumber
	case errors.Is(err, store.ErrNotFound):
		return store.Round{}, apperr.ErrSessionNotFound
	case err != nil:
		return store.Round{}, unavailable(err)
	}

	st := m.state(sess.RoomID)
	m.cancel(st)
	st.sessionID = sess.ID
	st.roundID = round.ID
	gen := st.gen
	roomID := sess.RoomID
	st.timer = m.clock.AfterFunc(m.cfg.AnswerWindow, func() {
		m.deadlineFired(roomID, sess.ID, round.ID, gen)
	})

	m.publish(roomID, event.RoundStart{
		SessionID:    sess.ID,
		RoundID:      round.ID,
		RoundNo:      round.RoundNo,
		QuestionText: round.QuestionText,
		Choices:      round.Choices,
		Deadline:     round.Deadline,
		TotalRounds:  sess.TotalRounds,
	})

	m.log.Info().Str("room_id", roomID).Str("session_id", sess.ID).Int("round_no", roundNo).Msg("round started")

	return round, nil
}

// deadlineFired locks the round the timer was scheduled for, unless anything
// has moved on since.
func (m *Machine) deadlineFired(roomID, sessionID, roundID string, gen uint64) {
	err := m.do(context.Background(), roomID, func(ctx context.Context) error {
		st := m.lookup(roomID)
		if st == nil || st.gen != gen || st.sessionID != sessionID || st.roundID != roundID {
			m.log.Debug().Str("room_id", roomID).Str("round_id", roundID).Msg("stale deadline ignored")
			return nil
		}
		st.timer = nil

		round, err := m.loadRound(ctx, roundID)
		if err != nil {
			return err
		}
		_, err = m.lock(ctx, roomID, round)
		return err
	})
	if err != nil {
		m.log.Error().Err(err).Str("room_id", roomID).Str("round_id", roundID).Msg("deadline lock failed")
	}
}

// lock runs on the room's worker. The lock event goes out only on the first
// successful lock.
func (m *Machine) lock(ctx context.Context, roomID string, round store.Round) (store.Round, error) {
	if round.LockedAt != nil {
		return round, nil
	}

	now := m.now()
	changed, err := m.store.LockRound(ctx, round.ID, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Round{}, apperr.ErrRoundNotFound
		}
		return store.Round{}, unavailable(err)
	}
	if !changed {
		return m.loadRound(ctx, round.ID)
	}
	round.LockedAt = &now

	if st := m.lookup(roomID); st != nil && st.roundID == round.ID && st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}

	m.publish(roomID, event.Lock{RoundID: round.ID, RoundNo: round.RoundNo})
	m.log.Debug().Str("room_id", roomID).Str("round_id", round.ID).Msg("round locked")

	return round, nil
}

// SubmitAnswer records the caller's choice for the round, replacing any
// earlier choice. Answers are refused once the round is locked, revealed,
// past its deadline or superseded.
func (m *Machine) SubmitAnswer(ctx context.Context, roundID string, caller identity.Player, choiceIndex int) (store.Answer, error) {
	if !validChoice(choiceIndex) {
		return store.Answer{}, apperr.ErrInvalidChoiceIndex
	}
	if err := checkCaller(caller); err != nil {
		return store.Answer{}, err
	}
	if caller.DisplayName != "" && !identity.ValidDisplayName(caller.DisplayName) {
		return store.Answer{}, apperr.ErrInvalidDisplayName
	}

	_, sess, err := m.loadRoundSession(ctx, roundID)
	if err != nil {
		return store.Answer{}, err
	}
	roomID := sess.RoomID

	var answer store.Answer
	err = m.do(ctx, roomID, func(ctx context.Context) error {
		member, err := m.member(ctx, roomID, caller.ID)
		if err != nil {
			return err
		}

		round, sess, err := m.loadRoundSession(ctx, roundID)
		if err != nil {
			return err
		}

		now := m.now()
		if sess.Status != store.SessionRunning || sess.CurrentRound != round.RoundNo ||
			round.LockedAt != nil || round.RevealedAt != nil {
			return apperr.ErrRoundLocked
		}
		if !now.Before(round.Deadline) {
			// the timer has not caught up yet
			if _, err := m.lock(ctx, roomID, round); err != nil {
				return err
			}
			return apperr.ErrRoundLocked
		}

		name := member.DisplayName
		if caller.DisplayName != "" {
			name = identity.NormalizeDisplayName(caller.DisplayName)
		}

		answer, err = m.store.UpsertAnswer(ctx, store.Answer{
			RoundID:     roundID,
			PlayerID:    caller.ID,
			DisplayName: name,
			ChoiceIndex: choiceIndex,
			SubmittedAt: now,
		})
		if err != nil {
			return unavailable(err)
		}

		answers, err := m.store.ListAnswers(ctx, roundID)
		if err != nil {
			return unavailable(err)
		}

		m.publish(roomID, event.Answer{
			RoundID:       roundID,
			PlayerID:      caller.ID,
			DisplayName:   name,
			AnsweredCount: len(answers),
		})
		return nil
	})
	if err != nil {
		return store.Answer{}, err
	}

	return answer, nil
}

// LockRound closes the round to answers. Locking twice is harmless.
func (m *Machine) LockRound(ctx context.Context, roundID string, caller identity.Player) (store.Round, error) {
	if err := checkCaller(caller); err != nil {
		return store.Round{}, err
	}

	_, sess, err := m.loadRoundSession(ctx, roundID)
	if err != nil {
		return store.Round{}, err
	}

	var round store.Round
	err = m.do(ctx, sess.RoomID, func(ctx context.Context) error {
		if err := m.requireHost(ctx, sess.RoomID, caller.ID); err != nil {
			return err
		}

		cur, err := m.loadRound(ctx, roundID)
		if err != nil {
			return err
		}

		round, err = m.lock(ctx, sess.RoomID, cur)
		return err
	})
	if err != nil {
		return store.Round{}, err
	}

	return round, nil
}

// RevealRound scores the round against correctIndex, exactly once. A round
// that is still open is locked first so the lock always precedes the reveal.
func (m *Machine) RevealRound(ctx context.Context, roundID string, caller identity.Player, correctIndex int) (Revealed, error) {
	if !validChoice(correctIndex) {
		return Revealed{}, apperr.ErrInvalidChoiceIndex
	}
	if err := checkCaller(caller); err != nil {
		return Revealed{}, err
	}

	_, sess, err := m.loadRoundSession(ctx, roundID)
	if err != nil {
		return Revealed{}, err
	}
	roomID := sess.RoomID

	var out Revealed
	err = m.do(ctx, roomID, func(ctx context.Context) error {
		if err := m.requireHost(ctx, roomID, caller.ID); err != nil {
			return err
		}

		round, sess, err := m.loadRoundSession(ctx, roundID)
		if err != nil {
			return err
		}
		if round.RevealedAt != nil {
			return apperr.ErrAlreadyRevealed
		}

		round, err = m.lock(ctx, roomID, round)
		if err != nil {
			return err
		}

		now := m.now()
		answers, err := m.store.RevealRound(ctx, roundID, correctIndex, now)
		switch {
		case errors.Is(err, store.ErrConstraint):
			return apperr.ErrAlreadyRevealed
		case errors.Is(err, store.ErrNotFound):
			return apperr.ErrRoundNotFound
		case err != nil:
			return unavailable(err)
		}
		round.RevealedAt = &now
		if answers == nil {
			answers = []store.Answer{}
		}

		scores, err := m.standings(ctx, sess)
		if err != nil {
			return err
		}

		correct := []string{}
		for _, a := range answers {
			if a.IsCorrect != nil && *a.IsCorrect {
				correct = append(correct, a.PlayerID)
			}
		}

		m.publish(roomID, event.Reveal{
			RoundID:           round.ID,
			RoundNo:           round.RoundNo,
			CorrectIndex:      correctIndex,
			CorrectChoiceText: round.Choices[correctIndex],
			CorrectPlayers:    correct,
			PointsAwarded:     m.cfg.PointsPerQuestion,
			Scores:            scores,
		})

		out = Revealed{Round: round, Answers: answers, Scores: scores}
		return nil
	})
	if err != nil {
		return Revealed{}, err
	}

	m.log.Info().Str("room_id", roomID).Str("round_id", roundID).Int("answers", len(out.Answers)).Msg("round revealed")

	return out, nil
}
