package event

import "time"

type MemberJoined struct {
	base
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	IsHost      bool      `json:"is_host"`
	JoinedAt    time.Time `json:"joined_at"`
}

func (MemberJoined) Type() string   { return TypeRoom }
func (MemberJoined) Action() string { return "member_joined" }

func (e MemberJoined) Validate() error {
	return requireField("player_id", e.PlayerID)
}

type MemberUpdated struct {
	base
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
}

func (MemberUpdated) Type() string   { return TypeRoom }
func (MemberUpdated) Action() string { return "member_updated" }

func (e MemberUpdated) Validate() error {
	return requireField("player_id", e.PlayerID)
}

type MemberLeft struct {
	base
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
}

func (MemberLeft) Type() string   { return TypeRoom }
func (MemberLeft) Action() string { return "member_left" }

func (e MemberLeft) Validate() error {
	return requireField("player_id", e.PlayerID)
}

// RoomStatus announces open, in_game or closed.
type RoomStatus struct {
	base
	Status string `json:"status"`
}

func (RoomStatus) Type() string   { return TypeRoom }
func (RoomStatus) Action() string { return "status" }

func (e RoomStatus) Validate() error {
	switch e.Status {
	case "open", "in_game", "closed":
		return nil
	}
	return invalid("unknown room status %q", e.Status)
}
