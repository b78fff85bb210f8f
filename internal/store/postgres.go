package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Postgres backs the store with a pgx connection pool. Migrations run
// through database/sql because goose only speaks that interface.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	err = migrate(ctx, db, goose.DialectPostgres, "migrations/postgres")
	db.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) wrap(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConstraint), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23514":
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		case "23503":
			return ErrNotFound
		}
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (p *Postgres) CreateRoom(ctx context.Context, room Room) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO rooms (id, code, status, created_at) VALUES ($1, $2, $3, $4)`,
		room.ID, room.Code, string(room.Status), room.CreatedAt)
	return p.wrap(err)
}

func scanRoomPostgres(row pgx.Row) (Room, error) {
	var (
		r      Room
		status string
	)
	if err := row.Scan(&r.ID, &r.Code, &status, &r.CreatedAt); err != nil {
		return Room{}, err
	}
	r.Status = RoomStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (p *Postgres) GetRoom(ctx context.Context, id string) (Room, error) {
	r, err := scanRoomPostgres(p.pool.QueryRow(ctx,
		`SELECT id, code, status, created_at FROM rooms WHERE id = $1`, id))
	return r, p.wrap(err)
}

func (p *Postgres) FindActiveRoom(ctx context.Context, code string) (Room, error) {
	r, err := scanRoomPostgres(p.pool.QueryRow(ctx,
		`SELECT id, code, status, created_at FROM rooms WHERE code = $1 AND status <> 'closed'`, code))
	return r, p.wrap(err)
}

func (p *Postgres) affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return p.wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetRoomStatus(ctx context.Context, id string, status RoomStatus) error {
	return p.affected(p.pool.Exec(ctx, `UPDATE rooms SET status = $1 WHERE id = $2`, string(status), id))
}

func (p *Postgres) DeleteRoom(ctx context.Context, id string) error {
	return p.affected(p.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id))
}

func (p *Postgres) AddMember(ctx context.Context, m Member) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO room_members (room_id, player_id, display_name, is_host, joined_at) VALUES ($1, $2, $3, $4, $5)`,
		m.RoomID, m.PlayerID, m.DisplayName, m.IsHost, m.JoinedAt)
	return p.wrap(err)
}

func scanMemberPostgres(row pgx.Row) (Member, error) {
	var m Member
	if err := row.Scan(&m.RoomID, &m.PlayerID, &m.DisplayName, &m.IsHost, &m.JoinedAt); err != nil {
		return Member{}, err
	}
	m.JoinedAt = m.JoinedAt.UTC()
	return m, nil
}

func (p *Postgres) GetMember(ctx context.Context, roomID, playerID string) (Member, error) {
	m, err := scanMemberPostgres(p.pool.QueryRow(ctx,
		`SELECT room_id, player_id, display_name, is_host, joined_at FROM room_members WHERE room_id = $1 AND player_id = $2`,
		roomID, playerID))
	return m, p.wrap(err)
}

func (p *Postgres) RenameMember(ctx context.Context, roomID, playerID, displayName string) error {
	return p.affected(p.pool.Exec(ctx,
		`UPDATE room_members SET display_name = $1 WHERE room_id = $2 AND player_id = $3`,
		displayName, roomID, playerID))
}

func (p *Postgres) RemoveMember(ctx context.Context, roomID, playerID string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM room_members WHERE room_id = $1 AND player_id = $2`, roomID, playerID)
	if err != nil {
		return false, p.wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) ListMembers(ctx context.Context, roomID string) ([]Member, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT room_id, player_id, display_name, is_host, joined_at FROM room_members
		 WHERE room_id = $1 ORDER BY joined_at, seq`, roomID)
	if err != nil {
		return nil, p.wrap(err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMemberPostgres(rows)
		if err != nil {
			return nil, p.wrap(err)
		}
		out = append(out, m)
	}

	return out, p.wrap(rows.Err())
}

func (p *Postgres) CreateSession(ctx context.Context, sess Session) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO quiz_sessions (id, room_id, status, current_round, total_rounds, created_by, created_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.RoomID, string(sess.Status), sess.CurrentRound, sess.TotalRounds, sess.CreatedBy,
		sess.CreatedAt, sess.EndedAt)
	return p.wrap(err)
}

const sessionColumnsPostgres = `id, room_id, status, current_round, total_rounds, created_by, created_at, ended_at`

func scanSessionPostgres(row pgx.Row) (Session, error) {
	var (
		sess   Session
		status string
	)
	if err := row.Scan(&sess.ID, &sess.RoomID, &status, &sess.CurrentRound, &sess.TotalRounds,
		&sess.CreatedBy, &sess.CreatedAt, &sess.EndedAt); err != nil {
		return Session{}, err
	}
	sess.Status = SessionStatus(status)
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.EndedAt = utc(sess.EndedAt)
	return sess, nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (Session, error) {
	sess, err := scanSessionPostgres(p.pool.QueryRow(ctx,
		`SELECT `+sessionColumnsPostgres+` FROM quiz_sessions WHERE id = $1`, id))
	return sess, p.wrap(err)
}

func (p *Postgres) FindRunningSession(ctx context.Context, roomID string) (Session, error) {
	sess, err := scanSessionPostgres(p.pool.QueryRow(ctx,
		`SELECT `+sessionColumnsPostgres+` FROM quiz_sessions WHERE room_id = $1 AND status = 'running'`, roomID))
	return sess, p.wrap(err)
}

func (p *Postgres) UpdateSession(ctx context.Context, sess Session) error {
	return p.affected(p.pool.Exec(ctx,
		`UPDATE quiz_sessions SET status = $1, current_round = $2, ended_at = $3 WHERE id = $4`,
		string(sess.Status), sess.CurrentRound, sess.EndedAt, sess.ID))
}

func (p *Postgres) AppendRound(ctx context.Context, r Round) error {
	return p.wrap(pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE quiz_sessions SET current_round = $1 WHERE id = $2 AND current_round = $3`,
			r.RoundNo, r.SessionID, r.RoundNo-1)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists int
			if err := tx.QueryRow(ctx, `SELECT 1 FROM quiz_sessions WHERE id = $1`, r.SessionID).Scan(&exists); err != nil {
				return err
			}
			return ErrConstraint
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO quiz_rounds (id, session_id, round_no, question_text, choices, correct_index, started_at, deadline, locked_at, revealed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, r.SessionID, r.RoundNo, r.QuestionText, r.Choices, r.CorrectIndex,
			r.StartedAt, r.Deadline, r.LockedAt, r.RevealedAt)
		return err
	}))
}

const roundColumnsPostgres = `id, session_id, round_no, question_text, choices, correct_index, started_at, deadline, locked_at, revealed_at`

func scanRoundPostgres(row pgx.Row) (Round, error) {
	var r Round
	if err := row.Scan(&r.ID, &r.SessionID, &r.RoundNo, &r.QuestionText, &r.Choices, &r.CorrectIndex,
		&r.StartedAt, &r.Deadline, &r.LockedAt, &r.RevealedAt); err != nil {
		return Round{}, err
	}
	r.StartedAt = r.StartedAt.UTC()
	r.Deadline = r.Deadline.UTC()
	r.LockedAt = utc(r.LockedAt)
	r.RevealedAt = utc(r.RevealedAt)
	return r, nil
}

func (p *Postgres) GetRound(ctx context.Context, id string) (Round, error) {
	r, err := scanRoundPostgres(p.pool.QueryRow(ctx,
		`SELECT `+roundColumnsPostgres+` FROM quiz_rounds WHERE id = $1`, id))
	return r, p.wrap(err)
}

func (p *Postgres) ListRounds(ctx context.Context, sessionID string) ([]Round, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+roundColumnsPostgres+` FROM quiz_rounds WHERE session_id = $1 ORDER BY round_no`, sessionID)
	if err != nil {
		return nil, p.wrap(err)
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		r, err := scanRoundPostgres(rows)
		if err != nil {
			return nil, p.wrap(err)
		}
		out = append(out, r)
	}

	return out, p.wrap(rows.Err())
}

func (p *Postgres) LockRound(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE quiz_rounds SET locked_at = $1 WHERE id = $2 AND locked_at IS NULL`, at, id)
	if err != nil {
		return false, p.wrap(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetRound(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *Postgres) RevealRound(ctx context.Context, id string, correctIndex int, at time.Time) ([]Answer, error) {
	var answers []Answer

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var revealed *time.Time
		if err := tx.QueryRow(ctx,
			`SELECT revealed_at FROM quiz_rounds WHERE id = $1 FOR UPDATE`, id).Scan(&revealed); err != nil {
			return err
		}
		if revealed != nil {
			return ErrConstraint
		}

		if _, err := tx.Exec(ctx,
			`UPDATE quiz_rounds SET revealed_at = $1, locked_at = COALESCE(locked_at, $1) WHERE id = $2`, at, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE quiz_answers SET is_correct = (choice_index = $1) WHERE round_id = $2`, correctIndex, id); err != nil {
			return err
		}

		var err error
		answers, err = p.listAnswers(ctx, tx, `WHERE round_id = $1 ORDER BY submitted_at, player_id`, id)
		return err
	})
	if err != nil {
		return nil, p.wrap(err)
	}

	return answers, nil
}

func (p *Postgres) UpsertAnswer(ctx context.Context, a Answer) (Answer, error) {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO quiz_answers (round_id, player_id, display_name, choice_index, submitted_at, is_correct)
		 VALUES ($1, $2, $3, $4, $5, NULL)
		 ON CONFLICT (round_id, player_id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   choice_index = EXCLUDED.choice_index,
		   submitted_at = EXCLUDED.submitted_at,
		   is_correct = NULL`,
		a.RoundID, a.PlayerID, a.DisplayName, a.ChoiceIndex, a.SubmittedAt)
	if err != nil {
		return Answer{}, p.wrap(err)
	}
	a.IsCorrect = nil
	return a, nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (p *Postgres) listAnswers(ctx context.Context, q pgQuerier, where string, args ...any) ([]Answer, error) {
	rows, err := q.Query(ctx,
		`SELECT round_id, player_id, display_name, choice_index, submitted_at, is_correct FROM quiz_answers `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.RoundID, &a.PlayerID, &a.DisplayName, &a.ChoiceIndex, &a.SubmittedAt, &a.IsCorrect); err != nil {
			return nil, err
		}
		a.SubmittedAt = a.SubmittedAt.UTC()
		out = append(out, a)
	}

	return out, rows.Err()
}

func (p *Postgres) ListAnswers(ctx context.Context, roundID string) ([]Answer, error) {
	answers, err := p.listAnswers(ctx, p.pool, `WHERE round_id = $1 ORDER BY submitted_at, player_id`, roundID)
	return answers, p.wrap(err)
}

func (p *Postgres) ListSessionAnswers(ctx context.Context, sessionID string) ([]Answer, error) {
	answers, err := p.listAnswers(ctx, p.pool,
		`JOIN quiz_rounds r ON r.id = quiz_answers.round_id
		 WHERE r.session_id = $1 ORDER BY r.round_no, quiz_answers.submitted_at, quiz_answers.player_id`, sessionID)
	return answers, p.wrap(err)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
