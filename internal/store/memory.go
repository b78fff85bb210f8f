package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// Memory keeps everything in process. State is lost on restart.
type Memory struct {
	mu sync.RWMutex

	rooms    map[string]Room
	members  map[string]map[string]memberRow // room id -> player id
	sessions map[string]Session
	rounds   map[string]Round
	answers  map[string]map[string]Answer // round id -> player id

	seq    uint64
	closed bool
}

type memberRow struct {
	Member
	seq uint64
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]Room),
		members:  make(map[string]map[string]memberRow),
		sessions: make(map[string]Session),
		rounds:   make(map[string]Round),
		answers:  make(map[string]map[string]Answer),
	}
}

func (m *Memory) check(ctx context.Context) error {
	if m.closed {
		return ErrUnavailable
	}
	return ctx.Err()
}

func (m *Memory) CreateRoom(ctx context.Context, room Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return err
	}
	if _, ok := m.rooms[room.ID]; ok {
		return ErrConstraint
	}
	for _, r := range m.rooms {
		if r.Code == room.Code && r.Status != RoomClosed {
			return ErrConstraint
		}
	}
	m.rooms[room.ID] = room

	return nil
}

func (m *Memory) GetRoom(ctx context.Context, id string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return Room{}, err
	}
	room, ok := m.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}

	return room, nil
}

func (m *Memory) FindActiveRoom(ctx context.Context, code string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return Room{}, err
	}
	for _, r := range m.rooms {
		if r.Code == code && r.Status != RoomClosed {
			return r, nil
		}
	}

	return Room{}, ErrNotFound
}

func (m *Memory) SetRoomStatus(ctx context.Context, id string, status RoomStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return err
	}
	room, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	if room.Status == RoomClosed && status != RoomClosed {
		for _, r := range m.rooms {
			if r.ID != id && r.Code == room.Code && r.Status != RoomClosed {
				return ErrConstraint
			}
		}
	}
	room.Status = status
	m.rooms[id] = room

	return nil
}

func (m *Memory) DeleteRoom(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return err
	}
	if _, ok := m.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(m.rooms, id)
	delete(m.members, id)

	return nil
}

func (m *Memory) AddMember(ctx context.Context, member Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return err
	}
	if _, ok := m.rooms[member.RoomID]; !ok {
		return ErrNotFound
	}
	rows := m.members[member.RoomID]
	if rows == nil {
		rows = make(map[string]memberRow)
		m.members[member.RoomID] = rows
	}
	if _, ok := rows[member.PlayerID]; ok {
		return ErrConstraint
	}
	m.seq++
	rows[member.PlayerID] = memberRow{Member: member, seq: m.seq}

	return nil
}

func (m *Memory) GetMember(ctx context.Context, roomID, playerID string) (Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return Member{}, err
	}
	row, ok := m.members[roomID][playerID]
	if !ok {
		return Member{}, ErrNotFound
	}

	return row.Member, nil
}

func (m *Memory) RenameMember(ctx context.Context, roomID, playerID, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return err
	}
	row, ok := m.members[roomID][playerID]
	if !ok {
		return ErrNotFound
	}
	row.DisplayName = displayName
	m.members[roomID][playerID] = row

	return nil
}

func (m *Memory) RemoveMember(ctx context.Context, roomID, playerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return false, err
	}
	if _, ok := m.members[roomID][playerID]; !ok {
		return false, nil
	}
	delete(m.members[roomID], playerID)

	return true, nil
}

func (m *Memory) ListMembers(ctx context.Context, roomID string) ([]Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return nil, err
	}
	rows := make([]memberRow, 0, len(m.members[roomID]))
	for _, row := range m.members[roomID] {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].JoinedAt.Equal(rows[j].JoinedAt) {
			return rows[i].JoinedAt.Before(rows[j].JoinedAt)
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]Member, len(rows))
	for i, row := range rows {
		out[i] = row.Member
	}

	return out, nil
}

func (m *Memory) CreateSession(ctx context.Context, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return err
	}
	if _, ok := m.sessions[session.ID]; ok {
		return ErrConstraint
	}
	if session.Status == SessionRunning {
		for _, s := range m.sessions {
			if s.RoomID == session.RoomID && s.Status == SessionRunning {
				return ErrConstraint
			}
		}
	}
	m.sessions[session.ID] = session

	return nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return Session{}, err
	}
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}

	return s, nil
}

func (m *Memory) FindRunningSession(ctx context.Context, roomID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return Session{}, err
	}
	for _, s := range m.sessions {
		if s.RoomID == roomID && s.Status == SessionRunning {
			return s, nil
		}
	}

	return Session{}, ErrNotFound
}

func (m *Memory) UpdateSession(ctx context.Context, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return err
	}
	s, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	s.Status = session.Status
	s.CurrentRound = session.CurrentRound
	s.EndedAt = session.EndedAt
	m.sessions[session.ID] = s

	return nil
}

func (m *Memory) AppendRound(ctx context.Context, round Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return err
	}
	s, ok := m.sessions[round.SessionID]
	if !ok {
		return ErrNotFound
	}
	if s.CurrentRound != round.RoundNo-1 {
		return ErrConstraint
	}
	if _, ok := m.rounds[round.ID]; ok {
		return ErrConstraint
	}
	round.Choices = slices.Clone(round.Choices)
	m.rounds[round.ID] = round
	s.CurrentRound = round.RoundNo
	m.sessions[s.ID] = s

	return nil
}

func (m *Memory) GetRound(ctx context.Context, id string) (Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return Round{}, err
	}
	r, ok := m.rounds[id]
	if !ok {
		return Round{}, ErrNotFound
	}
	r.Choices = slices.Clone(r.Choices)

	return r, nil
}

func (m *Memory) ListRounds(ctx context.Context, sessionID string) ([]Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var out []Round
	for _, r := range m.rounds {
		if r.SessionID == sessionID {
			r.Choices = slices.Clone(r.Choices)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNo < out[j].RoundNo })

	return out, nil
}

func (m *Memory) LockRound(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return false, err
	}
	r, ok := m.rounds[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.LockedAt != nil {
		return false, nil
	}
	r.LockedAt = &at
	m.rounds[id] = r

	return true, nil
}

func (m *Memory) RevealRound(ctx context.Context, id string, correctIndex int, at time.Time) ([]Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return nil, err
	}
	r, ok := m.rounds[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.RevealedAt != nil {
		return nil, ErrConstraint
	}
	r.RevealedAt = &at
	if r.LockedAt == nil {
		r.LockedAt = &at
	}
	m.rounds[id] = r

	for pid, a := range m.answers[id] {
		correct := a.ChoiceIndex == correctIndex
		a.IsCorrect = &correct
		m.answers[id][pid] = a
	}

	return m.listAnswersLocked(id), nil
}

func (m *Memory) UpsertAnswer(ctx context.Context, answer Answer) (Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx); err != nil {
		return Answer{}, err
	}
	if _, ok := m.rounds[answer.RoundID]; !ok {
		return Answer{}, ErrNotFound
	}
	rows := m.answers[answer.RoundID]
	if rows == nil {
		rows = make(map[string]Answer)
		m.answers[answer.RoundID] = rows
	}
	answer.IsCorrect = nil
	rows[answer.PlayerID] = answer

	return answer, nil
}

func (m *Memory) ListAnswers(ctx context.Context, roundID string) ([]Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return nil, err
	}

	return m.listAnswersLocked(roundID), nil
}

func (m *Memory) listAnswersLocked(roundID string) []Answer {
	out := make([]Answer, 0, len(m.answers[roundID]))
	for _, a := range m.answers[roundID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

func (m *Memory) ListSessionAnswers(ctx context.Context, sessionID string) ([]Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var rounds []Round
	for _, r := range m.rounds {
		if r.SessionID == sessionID {
			rounds = append(rounds, r)
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].RoundNo < rounds[j].RoundNo })

	var out []Answer
	for _, r := range rounds {
		out = append(out, m.listAnswersLocked(r.ID)...)
	}

	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}
