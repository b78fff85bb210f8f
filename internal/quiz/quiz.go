// Package quiz runs timed multiple-choice sessions inside a room: rounds are
// started by the host, answered by members until the deadline or an explicit
// lock, then revealed and scored exactly once.
package quiz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/event"
	"github.com/Nevug030/ShababsHub/internal/identity"
	"github.com/Nevug030/ShababsHub/internal/serial"
	"github.com/Nevug030/ShababsHub/internal/store"
)

const (
	DefaultAnswerWindow      = 20 * time.Second
	DefaultPointsPerQuestion = 1
	DefaultTotalRounds       = 10
	ChoiceCount              = 4
)

type Config struct {
	AnswerWindow      time.Duration
	PointsPerQuestion int
	TotalRounds       int
}

// Publisher delivers events to everyone in a room.
type Publisher interface {
	Publish(roomID string, e event.Event) error
}

// PlayerScore is one line of the standings.
type PlayerScore = event.Score

// Question is what the host supplies for a round.
type Question struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices"`
	Correct int      `json:"correct"`
}

func (q Question) validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return apperr.Detail(apperr.ErrInvalidQuestion, "question text is required")
	}
	if len(q.Choices) != ChoiceCount {
		return apperr.Detail(apperr.ErrInvalidQuestion, "question needs exactly %d choices, got %d", ChoiceCount, len(q.Choices))
	}
	for i, c := range q.Choices {
		if strings.TrimSpace(c) == "" {
			return apperr.Detail(apperr.ErrInvalidQuestion, "choice %d is empty", i)
		}
	}
	if !validChoice(q.Correct) {
		return apperr.ErrInvalidChoiceIndex
	}
	return nil
}

func validChoice(i int) bool {
	return i >= 0 && i < ChoiceCount
}

// roomState is touched only from the room's worker.
type roomState struct {
	sessionID string
	roundID   string
	gen       uint64
	timer     *clock.Timer
}

type Machine struct {
	store store.Store
	pub   Publisher
	exec  *serial.Executor
	clock clock.Clock
	log   zerolog.Logger
	cfg   Config

	mu    sync.Mutex
	rooms map[string]*roomState
	gen   uint64
}

func New(st store.Store, pub Publisher, exec *serial.Executor, clk clock.Clock, log zerolog.Logger, cfg Config) *Machine {
	if cfg.AnswerWindow <= 0 {
		cfg.AnswerWindow = DefaultAnswerWindow
	}
	if cfg.PointsPerQuestion <= 0 {
		cfg.PointsPerQuestion = DefaultPointsPerQuestion
	}
	if cfg.TotalRounds <= 0 {
		cfg.TotalRounds = DefaultTotalRounds
	}

	return &Machine{
		store: st,
		pub:   pub,
		exec:  exec,
		clock: clk,
		log:   log.With().Str("component", "quiz").Logger(),
		cfg:   cfg,
		rooms: make(map[string]*roomState),
	}
}

func (m *Machine) state(roomID string) *roomState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.rooms[roomID]
	if !ok {
		st = &roomState{}
		m.rooms[roomID] = st
	}
	return st
}

func (m *Machine) lookup(roomID string) *roomState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rooms[roomID]
}

func (m *Machine) forget(roomID string) {
	m.mu.Lock()
	st := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()

	if st != nil {
		m.cancel(st)
	}
}

func (m *Machine) nextGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	return m.gen
}

// cancel stops the pending deadline and invalidates one that already fired
// but has not reached the worker yet.
func (m *Machine) cancel(st *roomState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen = m.nextGen()
}

func unavailable(err error) error {
	return apperr.Wrap(apperr.ErrPersistenceUnavailable, err)
}

func (m *Machine) do(ctx context.Context, roomID string, fn func(context.Context) error) error {
	err := m.exec.Do(ctx, roomID, fn)
	if errors.Is(err, serial.ErrClosed) {
		return unavailable(err)
	}
	return err
}

func (m *Machine) publish(roomID string, e event.Event) {
	if err := m.pub.Publish(roomID, e); err != nil {
		m.log.Error().Err(err).Str("room_id", roomID).Str("action", e.Action()).Msg("publish failed")
	}
}

func (m *Machine) loadSession(ctx context.Context, id string) (store.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.Session{}, apperr.ErrSessionNotFound
	case err != nil:
		return store.Session{}, unavailable(err)
	}
	return sess, nil
}

func (m *Machine) loadRound(ctx context.Context, id string) (store.Round, error) {
	round, err := m.store.GetRound(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.Round{}, apperr.ErrRoundNotFound
	case err != nil:
		return store.Round{}, unavailable(err)
	}
	return round, nil
}

// loadRoundSession finds the round and the session it belongs to.
func (m *Machine) loadRoundSession(ctx context.Context, roundID string) (store.Round, store.Session, error) {
	round, err := m.loadRound(ctx, roundID)
	if err != nil {
		return store.Round{}, store.Session{}, err
	}
	sess, err := m.loadSession(ctx, round.SessionID)
	if err != nil {
		return store.Round{}, store.Session{}, err
	}
	return round, sess, nil
}

func (m *Machine) member(ctx context.Context, roomID, playerID string) (store.Member, error) {
	member, err := m.store.GetMember(ctx, roomID, playerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.Member{}, apperr.ErrNotMember
	case err != nil:
		return store.Member{}, unavailable(err)
	}
	return member, nil
}

func (m *Machine) requireHost(ctx context.Context, roomID, playerID string) error {
	member, err := m.member(ctx, roomID, playerID)
	if errors.Is(err, apperr.ErrNotMember) || (err == nil && !member.IsHost) {
		return apperr.ErrNotHost
	}
	return err
}

func checkCaller(caller identity.Player) error {
	if !identity.ValidPlayerID(caller.ID) {
		return apperr.ErrInvalidPlayerID
	}
	return nil
}

func (m *Machine) now() time.Time {
	return m.clock.Now().UTC()
}
