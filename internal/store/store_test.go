package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Nevug030/ShababsHub/internal/identity"
	"github.com/Nevug030/ShababsHub/internal/store"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func TestMemory(t *testing.T) {
	runSuite(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}

func TestSQLite(t *testing.T) {
	runSuite(t, func(t *testing.T) store.Store {
		s, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "shababshub.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres container skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shababshub"),
		postgres.WithUsername("shababshub"),
		postgres.WithPassword("shababshub"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// every subtest gets fresh rows through unique ids, so one database is shared
	s, err := store.NewPostgres(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	runSuite(t, func(t *testing.T) store.Store { return s })
}

func uniq(prefix string) string {
	return prefix + uuid.NewString()
}

func newRoom(t *testing.T, s store.Store, code string) store.Room {
	t.Helper()
	room := store.Room{ID: uniq("room-"), Code: code, Status: store.RoomOpen, CreatedAt: at(0)}
	require.NoError(t, s.CreateRoom(context.Background(), room))
	return room
}

func newSession(t *testing.T, s store.Store, roomID string) store.Session {
	t.Helper()
	sess := store.Session{
		ID: uniq("sess-"), RoomID: roomID, Status: store.SessionRunning,
		TotalRounds: 3, CreatedBy: "host", CreatedAt: at(1),
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func newRound(t *testing.T, s store.Store, sessionID string, no int) store.Round {
	t.Helper()
	round := store.Round{
		ID: uniq("round-"), SessionID: sessionID, RoundNo: no,
		QuestionText: "2+2?", Choices: []string{"3", "4", "5", "6"}, CorrectIndex: 1,
		StartedAt: at(10), Deadline: at(30),
	}
	require.NoError(t, s.AppendRound(context.Background(), round))
	return round
}

func nextCode() string {
	return identity.NewRoomCode()
}

func runSuite(t *testing.T, open func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("RoomCodeUniqueWhileActive", func(t *testing.T) {
		s := open(t)
		c := nextCode()
		room := newRoom(t, s, c)

		err := s.CreateRoom(ctx, store.Room{ID: uniq("room-"), Code: c, Status: store.RoomOpen, CreatedAt: at(0)})
		assert.ErrorIs(t, err, store.ErrConstraint)

		found, err := s.FindActiveRoom(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, room.ID, found.ID)

		require.NoError(t, s.SetRoomStatus(ctx, room.ID, store.RoomClosed))
		_, err = s.FindActiveRoom(ctx, c)
		assert.ErrorIs(t, err, store.ErrNotFound)

		reuse := newRoom(t, s, c)
		found, err = s.FindActiveRoom(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, reuse.ID, found.ID)
	})

	t.Run("MissingRecords", func(t *testing.T) {
		s := open(t)
		_, err := s.GetRoom(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.SetRoomStatus(ctx, "nope", store.RoomClosed), store.ErrNotFound)
		assert.ErrorIs(t, s.DeleteRoom(ctx, "nope"), store.ErrNotFound)
		_, err = s.GetSession(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetRound(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.LockRound(ctx, "nope", at(0))
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.RevealRound(ctx, "nope", 0, at(0))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Members", func(t *testing.T) {
		s := open(t)
		room := newRoom(t, s, nextCode())

		require.NoError(t, s.AddMember(ctx, store.Member{RoomID: room.ID, PlayerID: "p1", DisplayName: "Ann", IsHost: true, JoinedAt: at(1)}))
		require.NoError(t, s.AddMember(ctx, store.Member{RoomID: room.ID, PlayerID: "p2", DisplayName: "Bob", JoinedAt: at(2)}))
		err := s.AddMember(ctx, store.Member{RoomID: room.ID, PlayerID: "p2", DisplayName: "Bob", JoinedAt: at(3)})
		assert.ErrorIs(t, err, store.ErrConstraint)

		err = s.AddMember(ctx, store.Member{RoomID: "nope", PlayerID: "p9", DisplayName: "Zed", JoinedAt: at(3)})
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.RenameMember(ctx, room.ID, "p2", "Bobby"))
		m, err := s.GetMember(ctx, room.ID, "p2")
		require.NoError(t, err)
		assert.Equal(t, "Bobby", m.DisplayName)
		assert.False(t, m.IsHost)

		members, err := s.ListMembers(ctx, room.ID)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "p1", members[0].PlayerID)
		assert.True(t, members[0].IsHost)
		assert.True(t, members[0].JoinedAt.Equal(at(1)))

		removed, err := s.RemoveMember(ctx, room.ID, "p1")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = s.RemoveMember(ctx, room.ID, "p1")
		require.NoError(t, err)
		assert.False(t, removed)

		require.NoError(t, s.DeleteRoom(ctx, room.ID))
		_, err = s.GetMember(ctx, room.ID, "p2")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("OneRunningSessionPerRoom", func(t *testing.T) {
		s := open(t)
		room := newRoom(t, s, nextCode())
		sess := newSession(t, s, room.ID)

		err := s.CreateSession(ctx, store.Session{
			ID: uniq("sess-"), RoomID: room.ID, Status: store.SessionRunning, CreatedBy: "host", CreatedAt: at(2),
		})
		assert.ErrorIs(t, err, store.ErrConstraint)

		running, err := s.FindRunningSession(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, running.ID)

		ended := at(5)
		sess.Status = store.SessionEnded
		sess.EndedAt = &ended
		require.NoError(t, s.UpdateSession(ctx, sess))

		_, err = s.FindRunningSession(ctx, room.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, store.SessionEnded, got.Status)
		require.NotNil(t, got.EndedAt)
		assert.True(t, got.EndedAt.Equal(ended))

		newSession(t, s, room.ID)
	})

	t.Run("AppendRoundAdvancesCurrentRound", func(t *testing.T) {
		s := open(t)
		room := newRoom(t, s, nextCode())
		sess := newSession(t, s, room.ID)

		first := newRound(t, s, sess.ID, 1)

		skip := store.Round{
			ID: uniq("round-"), SessionID: sess.ID, RoundNo: 3, QuestionText: "q",
			Choices: []string{"a", "b", "c", "d"}, StartedAt: at(40), Deadline: at(60),
		}
		assert.ErrorIs(t, s.AppendRound(ctx, skip), store.ErrConstraint)

		again := skip
		again.RoundNo = 1
		assert.ErrorIs(t, s.AppendRound(ctx, again), store.ErrConstraint)

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.CurrentRound)

		newRound(t, s, sess.ID, 2)
		rounds, err := s.ListRounds(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, rounds, 2)
		assert.Equal(t, first.ID, rounds[0].ID)
		assert.Equal(t, []string{"3", "4", "5", "6"}, rounds[0].Choices)
		assert.True(t, rounds[0].Deadline.Equal(at(30)))
		assert.Nil(t, rounds[0].LockedAt)

		missing := skip
		missing.SessionID = "nope"
		missing.RoundNo = 1
		assert.ErrorIs(t, s.AppendRound(ctx, missing), store.ErrNotFound)
	})

	t.Run("AnswersUpsertAndReveal", func(t *testing.T) {
		s := open(t)
		room := newRoom(t, s, nextCode())
		sess := newSession(t, s, room.ID)
		round := newRound(t, s, sess.ID, 1)

		_, err := s.UpsertAnswer(ctx, store.Answer{RoundID: round.ID, PlayerID: "b", DisplayName: "Bob", ChoiceIndex: 0, SubmittedAt: at(11)})
		require.NoError(t, err)
		_, err = s.UpsertAnswer(ctx, store.Answer{RoundID: round.ID, PlayerID: "a", DisplayName: "Ann", ChoiceIndex: 0, SubmittedAt: at(12)})
		require.NoError(t, err)
		a, err := s.UpsertAnswer(ctx, store.Answer{RoundID: round.ID, PlayerID: "a", DisplayName: "Ann", ChoiceIndex: 1, SubmittedAt: at(13)})
		require.NoError(t, err)
		assert.Nil(t, a.IsCorrect)

		answers, err := s.ListAnswers(ctx, round.ID)
		require.NoError(t, err)
		require.Len(t, answers, 2)
		assert.Equal(t, "b", answers[0].PlayerID)
		assert.Equal(t, 1, answers[1].ChoiceIndex)

		_, err = s.UpsertAnswer(ctx, store.Answer{RoundID: "nope", PlayerID: "a", DisplayName: "Ann", SubmittedAt: at(13)})
		assert.ErrorIs(t, err, store.ErrNotFound)

		locked, err := s.LockRound(ctx, round.ID, at(20))
		require.NoError(t, err)
		assert.True(t, locked)
		locked, err = s.LockRound(ctx, round.ID, at(21))
		require.NoError(t, err)
		assert.False(t, locked)

		revealed, err := s.RevealRound(ctx, round.ID, 1, at(25))
		require.NoError(t, err)
		require.Len(t, revealed, 2)
		for _, ans := range revealed {
			require.NotNil(t, ans.IsCorrect)
			assert.Equal(t, ans.PlayerID == "a", *ans.IsCorrect)
		}

		got, err := s.GetRound(ctx, round.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LockedAt)
		assert.True(t, got.LockedAt.Equal(at(20)))
		require.NotNil(t, got.RevealedAt)

		_, err = s.RevealRound(ctx, round.ID, 1, at(26))
		assert.ErrorIs(t, err, store.ErrConstraint)

		all, err := s.ListSessionAnswers(ctx, sess.ID)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("RevealLocksUnlockedRound", func(t *testing.T) {
		s := open(t)
		room := newRoom(t, s, nextCode())
		sess := newSession(t, s, room.ID)
		round := newRound(t, s, sess.ID, 1)

		answers, err := s.RevealRound(ctx, round.ID, 2, at(15))
		require.NoError(t, err)
		assert.Empty(t, answers)

		got, err := s.GetRound(ctx, round.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LockedAt)
		assert.True(t, got.LockedAt.Equal(at(15)))
	})

	t.Run("ClosedStoreIsUnavailable", func(t *testing.T) {
		s := open(t)
		if _, ok := s.(*store.Postgres); ok {
			t.Skip("shared postgres store stays open")
		}
		require.NoError(t, s.Close())
		_, err := s.GetRoom(ctx, "any")
		assert.ErrorIs(t, err, store.ErrUnavailable)
	})
}
