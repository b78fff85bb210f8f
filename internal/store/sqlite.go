package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// SQLite persists to a single database file. Times are stored as Unix
// nanoseconds so ordering by join or submission time stays exact.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) wrap(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConstraint), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func fromNullBool(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLite) CreateRoom(ctx context.Context, room Room) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, code, status, created_at) VALUES (?, ?, ?, ?)`,
		room.ID, room.Code, string(room.Status), nanos(room.CreatedAt))
	return s.wrap(err)
}

func scanRoomSQLite(row scanner) (Room, error) {
	var (
		r       Room
		status  string
		created int64
	)
	if err := row.Scan(&r.ID, &r.Code, &status, &created); err != nil {
		return Room{}, err
	}
	r.Status = RoomStatus(status)
	r.CreatedAt = fromNanos(created)
	return r, nil
}

func (s *SQLite) GetRoom(ctx context.Context, id string) (Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, code, status, created_at FROM rooms WHERE id = ?`, id)
	r, err := scanRoomSQLite(row)
	return r, s.wrap(err)
}

func (s *SQLite) FindActiveRoom(ctx context.Context, code string) (Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, status, created_at FROM rooms WHERE code = ? AND status <> 'closed'`, code)
	r, err := scanRoomSQLite(row)
	return r, s.wrap(err)
}

func (s *SQLite) SetRoomStatus(ctx context.Context, id string, status RoomStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET status = ? WHERE id = ?`, string(status), id)
	return s.affected(res, err)
}

func (s *SQLite) affected(res sql.Result, err error) error {
	if err != nil {
		return s.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteRoom(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	return s.affected(res, err)
}

func (s *SQLite) AddMember(ctx context.Context, m Member) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, player_id, display_name, is_host, joined_at) VALUES (?, ?, ?, ?, ?)`,
		m.RoomID, m.PlayerID, m.DisplayName, m.IsHost, nanos(m.JoinedAt))
	err = s.wrap(err)
	if errors.Is(err, ErrConstraint) {
		// distinguish a missing room (foreign key) from a duplicate member
		if _, gerr := s.GetRoom(ctx, m.RoomID); errors.Is(gerr, ErrNotFound) {
			return ErrNotFound
		}
	}
	return err
}

func scanMemberSQLite(row scanner) (Member, error) {
	var (
		m      Member
		joined int64
	)
	if err := row.Scan(&m.RoomID, &m.PlayerID, &m.DisplayName, &m.IsHost, &joined); err != nil {
		return Member{}, err
	}
	m.JoinedAt = fromNanos(joined)
	return m, nil
}

func (s *SQLite) GetMember(ctx context.Context, roomID, playerID string) (Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT room_id, player_id, display_name, is_host, joined_at FROM room_members WHERE room_id = ? AND player_id = ?`,
		roomID, playerID)
	m, err := scanMemberSQLite(row)
	return m, s.wrap(err)
}

func (s *SQLite) RenameMember(ctx context.Context, roomID, playerID, displayName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE room_members SET display_name = ? WHERE room_id = ? AND player_id = ?`,
		displayName, roomID, playerID)
	return s.affected(res, err)
}

func (s *SQLite) RemoveMember(ctx context.Context, roomID, playerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ? AND player_id = ?`, roomID, playerID)
	if err != nil {
		return false, s.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap(err)
	}
	return n > 0, nil
}

func (s *SQLite) ListMembers(ctx context.Context, roomID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, player_id, display_name, is_host, joined_at FROM room_members
		 WHERE room_id = ? ORDER BY joined_at, rowid`, roomID)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMemberSQLite(rows)
		if err != nil {
			return nil, s.wrap(err)
		}
		out = append(out, m)
	}

	return out, s.wrap(rows.Err())
}

func (s *SQLite) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_sessions (id, room_id, status, current_round, total_rounds, created_by, created_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.RoomID, string(sess.Status), sess.CurrentRound, sess.TotalRounds, sess.CreatedBy,
		nanos(sess.CreatedAt), nullNanos(sess.EndedAt))
	return s.wrap(err)
}

const sessionColumnsSQLite = `id, room_id, status, current_round, total_rounds, created_by, created_at, ended_at`

func scanSessionSQLite(row scanner) (Session, error) {
	var (
		sess    Session
		status  string
		created int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.RoomID, &status, &sess.CurrentRound, &sess.TotalRounds,
		&sess.CreatedBy, &created, &ended); err != nil {
		return Session{}, err
	}
	sess.Status = SessionStatus(status)
	sess.CreatedAt = fromNanos(created)
	sess.EndedAt = fromNullNanos(ended)
	return sess, nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumnsSQLite+` FROM quiz_sessions WHERE id = ?`, id)
	sess, err := scanSessionSQLite(row)
	return sess, s.wrap(err)
}

func (s *SQLite) FindRunningSession(ctx context.Context, roomID string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumnsSQLite+` FROM quiz_sessions WHERE room_id = ? AND status = 'running'`, roomID)
	sess, err := scanSessionSQLite(row)
	return sess, s.wrap(err)
}

func (s *SQLite) UpdateSession(ctx context.Context, sess Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quiz_sessions SET status = ?, current_round = ?, ended_at = ? WHERE id = ?`,
		string(sess.Status), sess.CurrentRound, nullNanos(sess.EndedAt), sess.ID)
	return s.affected(res, err)
}

func (s *SQLite) AppendRound(ctx context.Context, r Round) error {
	choices, err := json.Marshal(r.Choices)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE quiz_sessions SET current_round = ? WHERE id = ? AND current_round = ?`,
		r.RoundNo, r.SessionID, r.RoundNo-1)
	if err != nil {
		return s.wrap(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return s.wrap(err)
	} else if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM quiz_sessions WHERE id = ?`, r.SessionID).Scan(&exists); err != nil {
			return s.wrap(err)
		}
		return ErrConstraint
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO quiz_rounds (id, session_id, round_no, question_text, choices_json, correct_index, started_at, deadline, locked_at, revealed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.RoundNo, r.QuestionText, string(choices), r.CorrectIndex,
		nanos(r.StartedAt), nanos(r.Deadline), nullNanos(r.LockedAt), nullNanos(r.RevealedAt))
	if err != nil {
		return s.wrap(err)
	}

	return s.wrap(tx.Commit())
}

const roundColumnsSQLite = `id, session_id, round_no, question_text, choices_json, correct_index, started_at, deadline, locked_at, revealed_at`

func scanRoundSQLite(row scanner) (Round, error) {
	var (
		r                 Round
		choices           string
		started, deadline int64
		locked, revealed  sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.SessionID, &r.RoundNo, &r.QuestionText, &choices, &r.CorrectIndex,
		&started, &deadline, &locked, &revealed); err != nil {
		return Round{}, err
	}
	if err := json.Unmarshal([]byte(choices), &r.Choices); err != nil {
		return Round{}, err
	}
	r.StartedAt = fromNanos(started)
	r.Deadline = fromNanos(deadline)
	r.LockedAt = fromNullNanos(locked)
	r.RevealedAt = fromNullNanos(revealed)
	return r, nil
}

func (s *SQLite) GetRound(ctx context.Context, id string) (Round, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roundColumnsSQLite+` FROM quiz_rounds WHERE id = ?`, id)
	r, err := scanRoundSQLite(row)
	return r, s.wrap(err)
}

func (s *SQLite) ListRounds(ctx context.Context, sessionID string) ([]Round, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roundColumnsSQLite+` FROM quiz_rounds WHERE session_id = ? ORDER BY round_no`, sessionID)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		r, err := scanRoundSQLite(rows)
		if err != nil {
			return nil, s.wrap(err)
		}
		out = append(out, r)
	}

	return out, s.wrap(rows.Err())
}

func (s *SQLite) LockRound(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quiz_rounds SET locked_at = ? WHERE id = ? AND locked_at IS NULL`, nanos(at), id)
	if err != nil {
		return false, s.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap(err)
	}
	if n == 0 {
		if _, err := s.GetRound(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLite) RevealRound(ctx context.Context, id string, correctIndex int, at time.Time) ([]Answer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer tx.Rollback()

	var revealed sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT revealed_at FROM quiz_rounds WHERE id = ?`, id).Scan(&revealed); err != nil {
		return nil, s.wrap(err)
	}
	if revealed.Valid {
		return nil, ErrConstraint
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE quiz_rounds SET revealed_at = ?, locked_at = COALESCE(locked_at, ?) WHERE id = ?`,
		nanos(at), nanos(at), id); err != nil {
		return nil, s.wrap(err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE quiz_answers SET is_correct = (choice_index = ?) WHERE round_id = ?`, correctIndex, id); err != nil {
		return nil, s.wrap(err)
	}

	answers, err := s.listAnswers(ctx, tx, `WHERE round_id = ? ORDER BY submitted_at, player_id`, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, s.wrap(err)
	}
	return answers, nil
}

func (s *SQLite) UpsertAnswer(ctx context.Context, a Answer) (Answer, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_answers (round_id, player_id, display_name, choice_index, submitted_at, is_correct)
		 VALUES (?, ?, ?, ?, ?, NULL)
		 ON CONFLICT (round_id, player_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   choice_index = excluded.choice_index,
		   submitted_at = excluded.submitted_at,
		   is_correct = NULL`,
		a.RoundID, a.PlayerID, a.DisplayName, a.ChoiceIndex, nanos(a.SubmittedAt))
	if err != nil {
		err = s.wrap(err)
		if errors.Is(err, ErrConstraint) {
			if _, gerr := s.GetRound(ctx, a.RoundID); errors.Is(gerr, ErrNotFound) {
				return Answer{}, ErrNotFound
			}
		}
		return Answer{}, err
	}
	a.IsCorrect = nil
	return a, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLite) listAnswers(ctx context.Context, q querier, where string, args ...any) ([]Answer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT round_id, player_id, display_name, choice_index, submitted_at, is_correct FROM quiz_answers `+where, args...)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var (
			a         Answer
			submitted int64
			correct   sql.NullBool
		)
		if err := rows.Scan(&a.RoundID, &a.PlayerID, &a.DisplayName, &a.ChoiceIndex, &submitted, &correct); err != nil {
			return nil, s.wrap(err)
		}
		a.SubmittedAt = fromNanos(submitted)
		a.IsCorrect = fromNullBool(correct)
		out = append(out, a)
	}

	return out, s.wrap(rows.Err())
}

func (s *SQLite) ListAnswers(ctx context.Context, roundID string) ([]Answer, error) {
	return s.listAnswers(ctx, s.db, `WHERE round_id = ? ORDER BY submitted_at, player_id`, roundID)
}

func (s *SQLite) ListSessionAnswers(ctx context.Context, sessionID string) ([]Answer, error) {
	return s.listAnswers(ctx, s.db,
		`WHERE round_id IN (SELECT id FROM quiz_rounds WHERE session_id = ?)
		 ORDER BY (SELECT round_no FROM quiz_rounds WHERE quiz_rounds.id = quiz_answers.round_id), submitted_at, player_id`,
		sessionID)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
