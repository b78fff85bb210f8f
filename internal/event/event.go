// Package event defines every message that crosses a room's broadcast
// channel. Outbound events are a closed set of variants, each encoded as one
// flat JSON object tagged with "type" and "action".
package event

import (
	"encoding/json"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/presence"
)

const (
	TypePresence = "presence"
	TypeWave     = "wave"
	TypeRoom     = "room"
	TypeQuiz     = "quiz"
	TypeError    = "error"
)

// Event is implemented only by the variants in this package.
type Event interface {
	Type() string
	Action() string
	Validate() error

	sealed()
}

type base struct{}

func (base) sealed() {}

func invalid(format string, args ...any) error {
	return apperr.Detail(apperr.ErrInvalidEvent, format, args...)
}

// Encode validates e and renders it as {type, action, ...fields}.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, invalid("nil event")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}

	fields["type"], _ = json.Marshal(e.Type())
	if action := e.Action(); action != "" {
		fields["action"], _ = json.Marshal(action)
	}

	return json.Marshal(fields)
}

// Presence.

type PresenceSync struct {
	base
	State map[string]presence.Entry `json:"state"`
}

func (PresenceSync) Type() string   { return TypePresence }
func (PresenceSync) Action() string { return "sync" }

func (e PresenceSync) Validate() error {
	if e.State == nil {
		return invalid("presence sync without state")
	}
	return nil
}

type PresenceJoin struct {
	base
	Key string `json:"key"`
	presence.Entry
}

func (PresenceJoin) Type() string   { return TypePresence }
func (PresenceJoin) Action() string { return "join" }

func (e PresenceJoin) Validate() error {
	if e.Key == "" || e.PlayerID == "" {
		return invalid("presence join needs key and player")
	}
	return nil
}

type PresenceLeave struct {
	base
	Key string `json:"key"`
	presence.Entry
}

func (PresenceLeave) Type() string   { return TypePresence }
func (PresenceLeave) Action() string { return "leave" }

func (e PresenceLeave) Validate() error {
	if e.Key == "" || e.PlayerID == "" {
		return invalid("presence leave needs key and player")
	}
	return nil
}

// Wave is a player greeting the room. Timestamp is Unix milliseconds.
type Wave struct {
	base
	From      string `json:"from"`
	Timestamp int64  `json:"timestamp"`
}

func (Wave) Type() string   { return TypeWave }
func (Wave) Action() string { return "" }

func (e Wave) Validate() error {
	if e.From == "" {
		return invalid("wave without sender")
	}
	return nil
}

// Error goes only to the connection that caused it.
type Error struct {
	base
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Error) Type() string   { return TypeError }
func (Error) Action() string { return "" }

func (e Error) Validate() error {
	if e.Code == "" {
		return invalid("error without code")
	}
	return nil
}

// FromError renders err for a client.
func FromError(err error) Error {
	return Error{Code: apperr.CodeOf(err), Message: apperr.MessageOf(err)}
}

func validChoice(i int) bool {
	return i >= 0 && i <= 3
}

func requireField(name, v string) error {
	if v == "" {
		return invalid("%s is required", name)
	}
	return nil
}

func requirePositive(name string, v int) error {
	if v < 1 {
		return invalid("%s must be positive", name)
	}
	return nil
}
