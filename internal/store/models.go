package store

import "time"

type RoomStatus string

const (
	RoomOpen   RoomStatus = "open"
	RoomInGame RoomStatus = "in_game"
	RoomClosed RoomStatus = "closed"
)

type Room struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	Status    RoomStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

type Member struct {
	RoomID      string    `json:"room_id"`
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	IsHost      bool      `json:"is_host"`
	JoinedAt    time.Time `json:"joined_at"`
}

type SessionStatus string

const (
	SessionIdle    SessionStatus = "idle"
	SessionRunning SessionStatus = "running"
	SessionEnded   SessionStatus = "ended"
)

type Session struct {
	ID           string        `json:"id"`
	RoomID       string        `json:"room_id"`
	Status       SessionStatus `json:"status"`
	CurrentRound int           `json:"current_round"`
	TotalRounds  int           `json:"total_rounds"`
	CreatedBy    string        `json:"created_by"`
	CreatedAt    time.Time     `json:"created_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
}

type Round struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	RoundNo      int        `json:"round_no"`
	QuestionText string     `json:"question_text"`
	Choices      []string   `json:"choices"`
	CorrectIndex int        `json:"correct_index"`
	StartedAt    time.Time  `json:"started_at"`
	Deadline     time.Time  `json:"deadline"`
	LockedAt     *time.Time `json:"locked_at,omitempty"`
	RevealedAt   *time.Time `json:"revealed_at,omitempty"`
}

// Closed reports whether the round stopped accepting answers at now.
func (r Round) Closed(now time.Time) bool {
	return r.LockedAt != nil || r.RevealedAt != nil || !now.Before(r.Deadline)
}

type Answer struct {
	RoundID     string    `json:"round_id"`
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	ChoiceIndex int       `json:"choice_index"`
	SubmittedAt time.Time `json:"submitted_at"`
	IsCorrect   *bool     `json:"is_correct"`
}
