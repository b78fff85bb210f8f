package event

import "time"

// Score is one line of the standings.
type Score struct {
	PlayerID       string `json:"player_id"`
	DisplayName    string `json:"display_name"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correct_answers"`
	TotalAnswers   int    `json:"total_answers"`
}

type Start struct {
	base
	SessionID   string `json:"session_id"`
	HostID      string `json:"host_id"`
	TotalRounds int    `json:"total_rounds"`
}

func (Start) Type() string   { return TypeQuiz }
func (Start) Action() string { return "start" }

func (e Start) Validate() error {
	if err := requireField("session_id", e.SessionID); err != nil {
		return err
	}
	return requirePositive("total_rounds", e.TotalRounds)
}

type RoundStart struct {
	base
	SessionID    string    `json:"session_id"`
	RoundID      string    `json:"round_id"`
	RoundNo      int       `json:"round_no"`
	QuestionText string    `json:"question_text"`
	Choices      []string  `json:"choices"`
	Deadline     time.Time `json:"deadline"`
	TotalRounds  int       `json:"total_rounds"`
}

func (RoundStart) Type() string   { return TypeQuiz }
func (RoundStart) Action() string { return "round_start" }

func (e RoundStart) Validate() error {
	if err := requireField("round_id", e.RoundID); err != nil {
		return err
	}
	if err := requirePositive("round_no", e.RoundNo); err != nil {
		return err
	}
	if e.QuestionText == "" || len(e.Choices) != 4 {
		return invalid("round_start needs a question and four choices")
	}
	return nil
}

// Answer tells the room someone answered without saying what.
type Answer struct {
	base
	RoundID       string `json:"round_id"`
	PlayerID      string `json:"player_id"`
	DisplayName   string `json:"display_name"`
	AnsweredCount int    `json:"answered_count"`
}

func (Answer) Type() string   { return TypeQuiz }
func (Answer) Action() string { return "answer" }

func (e Answer) Validate() error {
	if err := requireField("round_id", e.RoundID); err != nil {
		return err
	}
	return requireField("player_id", e.PlayerID)
}

type Lock struct {
	base
	RoundID string `json:"round_id"`
	RoundNo int    `json:"round_no"`
}

func (Lock) Type() string   { return TypeQuiz }
func (Lock) Action() string { return "lock" }

func (e Lock) Validate() error {
	return requireField("round_id", e.RoundID)
}

type Reveal struct {
	base
	RoundID           string   `json:"round_id"`
	RoundNo           int      `json:"round_no"`
	CorrectIndex      int      `json:"correct_index"`
	CorrectChoiceText string   `json:"correct_choice_text"`
	CorrectPlayers    []string `json:"correct_players"`
	PointsAwarded     int      `json:"points_awarded"`
	Scores            []Score  `json:"scores"`
}

func (Reveal) Type() string   { return TypeQuiz }
func (Reveal) Action() string { return "reveal" }

func (e Reveal) Validate() error {
	if err := requireField("round_id", e.RoundID); err != nil {
		return err
	}
	if !validChoice(e.CorrectIndex) {
		return invalid("correct_index %d out of range", e.CorrectIndex)
	}
	if e.CorrectPlayers == nil || e.Scores == nil {
		return invalid("reveal needs correct_players and scores")
	}
	return nil
}

type Next struct {
	base
	SessionID   string `json:"session_id"`
	NextRoundNo int    `json:"next_round_no"`
}

func (Next) Type() string   { return TypeQuiz }
func (Next) Action() string { return "next" }

func (e Next) Validate() error {
	return requirePositive("next_round_no", e.NextRoundNo)
}

type End struct {
	base
	SessionID   string  `json:"session_id"`
	FinalScores []Score `json:"final_scores"`
}

func (End) Type() string   { return TypeQuiz }
func (End) Action() string { return "end" }

func (e End) Validate() error {
	if err := requireField("session_id", e.SessionID); err != nil {
		return err
	}
	if e.FinalScores == nil {
		return invalid("end needs final_scores")
	}
	return nil
}
