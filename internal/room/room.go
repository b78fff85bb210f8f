// Package room is the admission control and lifecycle of rooms: creating
// them, letting players in and out, and closing them once they are empty.
package room

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/event"
	"github.com/Nevug030/ShababsHub/internal/identity"
	"github.com/Nevug030/ShababsHub/internal/serial"
	"github.com/Nevug030/ShababsHub/internal/store"
)

const DefaultCodeAttempts = 5

// Bus is the part of the broadcast channel the coordinator needs.
type Bus interface {
	Publish(roomID string, e event.Event) error
	Close(roomID string)
}

// CloseListener is told when a room has been closed so it can drop any
// per-room state, such as pending round timers.
type CloseListener interface {
	RoomClosed(ctx context.Context, roomID string) error
}

type Config struct {
	CodeAttempts int
	// NewCode defaults to identity.NewRoomCode.
	NewCode func() string
}

type Coordinator struct {
	store store.Store
	bus   Bus
	exec  *serial.Executor
	clock clock.Clock
	log   zerolog.Logger
	cfg   Config

	listeners []CloseListener
}

func New(st store.Store, bus Bus, exec *serial.Executor, clk clock.Clock, log zerolog.Logger, cfg Config) *Coordinator {
	if cfg.CodeAttempts < 1 {
		cfg.CodeAttempts = DefaultCodeAttempts
	}
	if cfg.NewCode == nil {
		cfg.NewCode = identity.NewRoomCode
	}

	return &Coordinator{
		store: st,
		bus:   bus,
		exec:  exec,
		clock: clk,
		log:   log.With().Str("component", "room").Logger(),
		cfg:   cfg,
	}
}

// OnClose registers l to hear about closed rooms. Not safe to call once the
// coordinator is serving requests.
func (c *Coordinator) OnClose(l CloseListener) {
	c.listeners = append(c.listeners, l)
}

type Created struct {
	Code     string       `json:"code"`
	PlayerID string       `json:"player_id"`
	Room     store.Room   `json:"room"`
	Member   store.Member `json:"-"`
}

type Joined struct {
	Room     store.Room   `json:"room"`
	Member   store.Member `json:"member"`
	Rejoined bool         `json:"rejoined"`
}

type Left struct {
	Removed    bool `json:"removed"`
	RoomClosed bool `json:"room_closed"`
}

type Details struct {
	Room    store.Room     `json:"room"`
	Members []store.Member `json:"players"`
}

func unavailable(err error) error {
	return apperr.Wrap(apperr.ErrPersistenceUnavailable, err)
}

// CreateRoom opens a room under a fresh code with p as its host. A player id
// is issued if p has none.
func (c *Coordinator) CreateRoom(ctx context.Context, p identity.Player) (Created, error) {
	if !identity.ValidDisplayName(p.DisplayName) {
		return Created{}, apperr.ErrInvalidDisplayName
	}
	name := identity.NormalizeDisplayName(p.DisplayName)

	playerID := p.ID
	if playerID == "" {
		playerID = identity.NewPlayerID()
	} else if !identity.ValidPlayerID(playerID) {
		return Created{}, apperr.ErrInvalidPlayerID
	}

	room, err := c.insertRoom(ctx)
	if err != nil {
		return Created{}, err
	}

	host := store.Member{
		RoomID:      room.ID,
		PlayerID:    playerID,
		DisplayName: name,
		IsHost:      true,
		JoinedAt:    c.clock.Now().UTC(),
	}
	if err := c.store.AddMember(ctx, host); err != nil {
		if derr := c.store.DeleteRoom(context.WithoutCancel(ctx), room.ID); derr != nil {
			c.log.Error().Err(derr).Str("room_id", room.ID).Msg("failed to remove room after host insert failed")
		}
		return Created{}, unavailable(err)
	}

	c.log.Info().Str("room_id", room.ID).Str("code", room.Code).Str("player_id", playerID).Msg("room created")

	return Created{Code: room.Code, PlayerID: playerID, Room: room, Member: host}, nil
}

func (c *Coordinator) insertRoom(ctx context.Context) (store.Room, error) {
	for attempt := 1; attempt <= c.cfg.CodeAttempts; attempt++ {
		code := c.cfg.NewCode()

		_, err := c.store.FindActiveRoom(ctx, code)
		switch {
		case err == nil:
			c.log.Debug().Str("code", code).Int("attempt", attempt).Msg("room code in use")
			continue
		case !errors.Is(err, store.ErrNotFound):
			return store.Room{}, unavailable(err)
		}

		room := store.Room{
			ID:        identity.NewID(),
			Code:      code,
			Status:    store.RoomOpen,
			CreatedAt: c.clock.Now().UTC(),
		}
		err = c.store.CreateRoom(ctx, room)
		switch {
		case err == nil:
			return room, nil
		case errors.Is(err, store.ErrConstraint):
			// taken between the lookup and the insert
			continue
		default:
			return store.Room{}, unavailable(err)
		}
	}

	return store.Room{}, apperr.ErrCodeGenerationExhausted
}

func (c *Coordinator) resolve(ctx context.Context, code string) (store.Room, error) {
	if !identity.ValidRoomCode(code) {
		return store.Room{}, apperr.ErrInvalidCode
	}

	room, err := c.store.FindActiveRoom(ctx, code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.Room{}, apperr.ErrRoomNotFound
	case err != nil:
		return store.Room{}, unavailable(err)
	}

	return room, nil
}

// JoinRoom admits p to an open room. Joining again is allowed and only
// updates the display name.
func (c *Coordinator) JoinRoom(ctx context.Context, code string, p identity.Player) (Joined, error) {
	if !identity.ValidRoomCode(code) {
		return Joined{}, apperr.ErrInvalidCode
	}
	if !identity.ValidDisplayName(p.DisplayName) {
		return Joined{}, apperr.ErrInvalidDisplayName
	}
	if !identity.ValidPlayerID(p.ID) {
		return Joined{}, apperr.ErrInvalidPlayerID
	}
	name := identity.NormalizeDisplayName(p.DisplayName)

	room, err := c.resolve(ctx, code)
	if err != nil {
		return Joined{}, err
	}

	var out Joined
	err = c.do(ctx, room.ID, func(ctx context.Context) error {
		cur, err := c.store.GetRoom(ctx, room.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return apperr.ErrRoomNotFound
		case err != nil:
			return unavailable(err)
		}

		switch cur.Status {
		case store.RoomOpen:
		case store.RoomClosed:
			return apperr.ErrRoomNotFound
		default:
			return apperr.ErrRoomNotAcceptingPlayers
		}

		member, err := c.store.GetMember(ctx, room.ID, p.ID)
		switch {
		case err == nil:
			if member.DisplayName != name {
				if err := c.store.RenameMember(ctx, room.ID, p.ID, name); err != nil {
					return unavailable(err)
				}
				member.DisplayName = name
				c.publish(room.ID, event.MemberUpdated{PlayerID: p.ID, DisplayName: name})
			}
			out = Joined{Room: cur, Member: member, Rejoined: true}
			return nil

		case !errors.Is(err, store.ErrNotFound):
			return unavailable(err)
		}

		member = store.Member{
			RoomID:      room.ID,
			PlayerID:    p.ID,
			DisplayName: name,
			JoinedAt:    c.clock.Now().UTC(),
		}
		if err := c.store.AddMember(ctx, member); err != nil {
			return unavailable(err)
		}
		c.publish(room.ID, event.MemberJoined{
			PlayerID:    member.PlayerID,
			DisplayName: member.DisplayName,
			JoinedAt:    member.JoinedAt,
		})

		out = Joined{Room: cur, Member: member}
		return nil
	})
	if err != nil {
		return Joined{}, err
	}

	c.log.Info().Str("room_id", room.ID).Str("player_id", p.ID).Bool("rejoined", out.Rejoined).Msg("player joined")

	return out, nil
}

// Rename changes a member's persisted display name. Unlike JoinRoom it works
// while a game is running.
func (c *Coordinator) Rename(ctx context.Context, roomID, playerID, displayName string) (store.Member, error) {
	if !identity.ValidDisplayName(displayName) {
		return store.Member{}, apperr.ErrInvalidDisplayName
	}
	if !identity.ValidPlayerID(playerID) {
		return store.Member{}, apperr.ErrInvalidPlayerID
	}
	name := identity.NormalizeDisplayName(displayName)

	var out store.Member
	err := c.do(ctx, roomID, func(ctx context.Context) error {
		cur, err := c.store.GetRoom(ctx, roomID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return apperr.ErrRoomNotFound
		case err != nil:
			return unavailable(err)
		case cur.Status == store.RoomClosed:
			return apperr.ErrRoomNotFound
		}

		member, err := c.store.GetMember(ctx, roomID, playerID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return apperr.ErrNotMember
		case err != nil:
			return unavailable(err)
		}

		if member.DisplayName != name {
			if err := c.store.RenameMember(ctx, roomID, playerID, name); err != nil {
				return unavailable(err)
			}
			member.DisplayName = name
			c.publish(roomID, event.MemberUpdated{PlayerID: playerID, DisplayName: name})
		}

		out = member
		return nil
	})
	if err != nil {
		return store.Member{}, err
	}

	return out, nil
}

// LeaveRoom removes the player. The last one out closes the room. Leaving a
// room you are not in succeeds without doing anything.
func (c *Coordinator) LeaveRoom(ctx context.Context, code, playerID string) (Left, error) {
	if !identity.ValidPlayerID(playerID) {
		return Left{}, apperr.ErrInvalidPlayerID
	}

	room, err := c.resolve(ctx, code)
	if errors.Is(err, apperr.ErrInvalidCode) {
		return Left{}, apperr.ErrRoomNotFound
	}
	if err != nil {
		return Left{}, err
	}

	var out Left
	err = c.do(ctx, room.ID, func(ctx context.Context) error {
		member, err := c.store.GetMember(ctx, room.ID, playerID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return unavailable(err)
		}

		removed, err := c.store.RemoveMember(ctx, room.ID, playerID)
		if err != nil {
			return unavailable(err)
		}
		if !removed {
			return nil
		}
		out.Removed = true
		c.publish(room.ID, event.MemberLeft{PlayerID: playerID, DisplayName: member.DisplayName})

		rest, err := c.store.ListMembers(ctx, room.ID)
		if err != nil {
			return unavailable(err)
		}
		if len(rest) > 0 {
			return nil
		}

		if err := c.store.SetRoomStatus(ctx, room.ID, store.RoomClosed); err != nil {
			return unavailable(err)
		}
		out.RoomClosed = true
		return nil
	})
	if err != nil {
		return Left{}, err
	}

	if out.RoomClosed {
		c.closed(ctx, room.ID)
	}
	if out.Removed {
		c.log.Info().Str("room_id", room.ID).Str("player_id", playerID).Bool("room_closed", out.RoomClosed).Msg("player left")
	}

	return out, nil
}

// closed runs outside the room's worker because listeners schedule their
// own work on it.
func (c *Coordinator) closed(ctx context.Context, roomID string) {
	for _, l := range c.listeners {
		if err := l.RoomClosed(context.WithoutCancel(ctx), roomID); err != nil {
			c.log.Error().Err(err).Str("room_id", roomID).Msg("close listener failed")
		}
	}

	c.publish(roomID, event.RoomStatus{Status: string(store.RoomClosed)})
	c.bus.Close(roomID)
}

// Details returns any room that has not been closed, with its members in
// join order.
func (c *Coordinator) Details(ctx context.Context, code string) (Details, error) {
	room, err := c.resolve(ctx, code)
	if err != nil {
		return Details{}, err
	}

	members, err := c.store.ListMembers(ctx, room.ID)
	if err != nil {
		return Details{}, unavailable(err)
	}
	if members == nil {
		members = []store.Member{}
	}

	return Details{Room: room, Members: members}, nil
}

// Member authorizes playerID against the room behind code.
func (c *Coordinator) Member(ctx context.Context, code, playerID string) (store.Room, store.Member, error) {
	if !identity.ValidPlayerID(playerID) {
		return store.Room{}, store.Member{}, apperr.ErrInvalidPlayerID
	}

	room, err := c.resolve(ctx, code)
	if err != nil {
		return store.Room{}, store.Member{}, err
	}

	member, err := c.store.GetMember(ctx, room.ID, playerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.Room{}, store.Member{}, apperr.ErrNotMember
	case err != nil:
		return store.Room{}, store.Member{}, unavailable(err)
	}

	return room, member, nil
}

func (c *Coordinator) do(ctx context.Context, roomID string, fn func(context.Context) error) error {
	err := c.exec.Do(ctx, roomID, fn)
	if errors.Is(err, serial.ErrClosed) {
		return unavailable(err)
	}
	return err
}

func (c *Coordinator) publish(roomID string, e event.Event) {
	if err := c.bus.Publish(roomID, e); err != nil {
		c.log.Error().Err(err).Str("room_id", roomID).Str("action", e.Action()).Msg("publish failed")
	}
}
