package event

import (
	"encoding/json"

	"github.com/Nevug030/ShababsHub/internal/identity"
)

// Command is something a client sends over its websocket.
type Command interface {
	command()
}

// Track re-announces presence, optionally under a new display name.
type Track struct {
	DisplayName string
}

type SendWave struct{}

type SubmitAnswer struct {
	RoundID     string
	ChoiceIndex int
}

type RequestLock struct {
	RoundID string
}

func (Track) command()        {}
func (SendWave) command()     {}
func (SubmitAnswer) command() {}
func (RequestLock) command()  {}

type envelope struct {
	Type        string `json:"type"`
	Action      string `json:"action"`
	DisplayName string `json:"display_name"`
	RoundID     string `json:"round_id"`
	ChoiceIndex *int   `json:"choice_index"`
}

// ParseCommand decodes one client frame.
func ParseCommand(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalid("malformed json")
	}

	switch {
	case env.Type == TypePresence && env.Action == "track":
		if env.DisplayName != "" && !identity.ValidDisplayName(env.DisplayName) {
			return nil, invalid("display name must be between %d and %d characters",
				identity.MinNameLength, identity.MaxNameLength)
		}
		return Track{DisplayName: identity.NormalizeDisplayName(env.DisplayName)}, nil

	case env.Type == TypeWave:
		return SendWave{}, nil

	case env.Type == TypeQuiz && env.Action == "answer":
		if env.RoundID == "" || env.ChoiceIndex == nil {
			return nil, invalid("answer needs round_id and choice_index")
		}
		return SubmitAnswer{RoundID: env.RoundID, ChoiceIndex: *env.ChoiceIndex}, nil

	case env.Type == TypeQuiz && env.Action == "lock":
		if env.RoundID == "" {
			return nil, invalid("lock needs round_id")
		}
		return RequestLock{RoundID: env.RoundID}, nil
	}

	return nil, invalid("unknown command %q/%q", env.Type, env.Action)
}
