package quiz

import (
	"context"
	"errors"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/event"
	"github.com/Nevug030/ShababsHub/internal/identity"
	"github.com/Nevug030/ShababsHub/internal/store"
)

type Ended struct {
	Session     store.Session `json:"session"`
	FinalScores []PlayerScore `json:"final_scores"`
}

// StartSession begins a new quiz in the room. A session that is still
// running is ended first; the latest start wins. totalRounds of zero means
// the configured default.
func (m *Machine) StartSession(ctx context.Context, roomID string, caller identity.Player, totalRounds int) (store.Session, error) {
	if err := checkCaller(caller); err != nil {
		return store.Session{}, err
	}
	if totalRounds < 0 {
		return store.Session{}, apperr.Detail(apperr.ErrInvalidRoundNumber, "total rounds must not be negative")
	}
	if totalRounds == 0 {
		totalRounds = m.cfg.TotalRounds
	}

	var sess store.Session
	err := m.do(ctx, roomID, func(ctx context.Context) error {
		room, err := m.store.GetRoom(ctx, roomID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return apperr.ErrRoomNotFound
		case err != nil:
			return unavailable(err)
		case room.Status == store.RoomClosed:
			return apperr.ErrRoomNotFound
		}

		if err := m.requireHost(ctx, roomID, caller.ID); err != nil {
			return err
		}

		now := m.now()

		prev, err := m.store.FindRunningSession(ctx, roomID)
		switch {
		case err == nil:
			prev.Status = store.SessionEnded
			prev.EndedAt = &now
			if err := m.store.UpdateSession(ctx, prev); err != nil {
				return unavailable(err)
			}
			m.log.Info().Str("room_id", roomID).Str("session_id", prev.ID).Msg("running session replaced")
		case !errors.Is(err, store.ErrNotFound):
			return unavailable(err)
		}

		sess = store.Session{
			ID:          identity.NewID(),
			RoomID:      roomID,
			Status:      store.SessionRunning,
			TotalRounds: totalRounds,
			CreatedBy:   caller.ID,
			CreatedAt:   now,
		}
		if err := m.store.CreateSession(ctx, sess); err != nil {
			return unavailable(err)
		}

		if room.Status != store.RoomInGame {
			if err := m.store.SetRoomStatus(ctx, roomID, store.RoomInGame); err != nil {
				return unavailable(err)
			}
			m.publish(roomID, event.RoomStatus{Status: string(store.RoomInGame)})
		}

		st := m.state(roomID)
		m.cancel(st)
		st.sessionID = sess.ID
		st.roundID = ""

		m.publish(roomID, event.Start{SessionID: sess.ID, HostID: caller.ID, TotalRounds: totalRounds})
		return nil
	})
	if err != nil {
		return store.Session{}, err
	}

	m.log.Info().Str("room_id", roomID).Str("session_id", sess.ID).Int("total_rounds", totalRounds).Msg("session started")

	return sess, nil
}

// EndSession finishes a running session, reopens the room and announces the
// final standings.
func (m *Machine) EndSession(ctx context.Context, sessionID string, caller identity.Player) (Ended, error) {
	if err := checkCaller(caller); err != nil {
		return Ended{}, err
	}

	sess, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return Ended{}, err
	}

	var out Ended
	err = m.do(ctx, sess.RoomID, func(ctx context.Context) error {
		if err := m.requireHost(ctx, sess.RoomID, caller.ID); err != nil {
			return err
		}

		cur, err := m.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if cur.Status != store.SessionRunning {
			return apperr.ErrSessionNotRunning
		}

		out, err = m.end(ctx, cur, true)
		return err
	})
	if err != nil {
		return Ended{}, err
	}

	m.log.Info().Str("room_id", sess.RoomID).Str("session_id", sessionID).Msg("session ended")

	return out, nil
}

// end runs on the room's worker.
func (m *Machine) end(ctx context.Context, sess store.Session, reopen bool) (Ended, error) {
	if st := m.lookup(sess.RoomID); st != nil && st.sessionID == sess.ID {
		m.forget(sess.RoomID)
	}

	now := m.now()
	sess.Status = store.SessionEnded
	sess.EndedAt = &now
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return Ended{}, unavailable(err)
	}

	if reopen {
		room, err := m.store.GetRoom(ctx, sess.RoomID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Ended{}, unavailable(err)
		}
		if err == nil && room.Status == store.RoomInGame {
			if err := m.store.SetRoomStatus(ctx, sess.RoomID, store.RoomOpen); err != nil {
				return Ended{}, unavailable(err)
			}
			m.publish(sess.RoomID, event.RoomStatus{Status: string(store.RoomOpen)})
		}
	}

	scores, err := m.standings(ctx, sess)
	if err != nil {
		return Ended{}, err
	}

	m.publish(sess.RoomID, event.End{SessionID: sess.ID, FinalScores: scores})

	return Ended{Session: sess, FinalScores: scores}, nil
}

// RoomClosed ends whatever is running in a room that has just been closed and
// drops its timers. It needs no host since everyone has left.
func (m *Machine) RoomClosed(ctx context.Context, roomID string) error {
	return m.do(ctx, roomID, func(ctx context.Context) error {
		defer m.forget(roomID)

		sess, err := m.store.FindRunningSession(ctx, roomID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return unavailable(err)
		}

		_, err = m.end(ctx, sess, false)
		return err
	})
}
