package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/broadcast"
	"github.com/Nevug030/ShababsHub/internal/event"
	"github.com/Nevug030/ShababsHub/internal/identity"
	"github.com/Nevug030/ShababsHub/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one websocket connection to a room. Room events arrive through
// the subscription; errors caused by this connection go out on direct only.
type client struct {
	s    *server
	conn *websocket.Conn
	sub  *broadcast.Subscription
	log  zerolog.Logger

	roomID  string
	player  identity.Player
	isHost  bool
	limiter *rate.Limiter
	direct  chan []byte
}

func (s *server) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room, member, err := s.rooms.Member(r.Context(), ps.ByName("code"), r.URL.Query().Get("player_id"))
		if err != nil {
			securityHeaders(s.cfg, w)
			s.writeError(w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug().Err(err).Str("remote", realIP(r)).Msg("websocket upgrade failed")
			return
		}

		c := &client{
			s:    s,
			conn: conn,
			sub:  s.bus.Subscribe(room.ID),
			log: s.log.With().
				Str("component", "ws").
				Str("room_id", room.ID).
				Str("player_id", member.PlayerID).
				Logger(),
			roomID:  room.ID,
			player:  identity.Player{ID: member.PlayerID, DisplayName: member.DisplayName},
			isHost:  member.IsHost,
			limiter: rate.NewLimiter(rate.Limit(s.cfg.clientRate), s.cfg.clientBurst),
			direct:  make(chan []byte, 8),
		}

		c.log.Debug().Str("key", c.sub.Key()).Str("remote", realIP(r)).Msg("connected")

		go c.writePump()
		c.track()
		c.readPump()

		c.log.Debug().Str("key", c.sub.Key()).Msg("disconnected")
	}
}

func (c *client) track() {
	c.sub.Track(presence.Entry{
		PlayerID:    c.player.ID,
		DisplayName: c.player.DisplayName,
		IsHost:      c.isHost,
	})
}

func (c *client) readPump() {
	defer func() {
		c.sub.Unsubscribe()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		if !c.limiter.Allow() {
			c.reply(apperr.ErrRateLimited)
			continue
		}

		cmd, err := event.ParseCommand(data)
		if err != nil {
			c.reply(err)
			continue
		}

		if err := c.dispatch(cmd); err != nil {
			c.reply(err)
		}
	}
}

func (c *client) dispatch(cmd event.Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch cmd := cmd.(type) {
	case event.Track:
		if cmd.DisplayName != "" && cmd.DisplayName != c.player.DisplayName {
			member, err := c.s.rooms.Rename(ctx, c.roomID, c.player.ID, cmd.DisplayName)
			if err != nil {
				return err
			}
			c.player.DisplayName = member.DisplayName
		}
		c.track()
		return nil

	case event.SendWave:
		return c.s.bus.Publish(c.roomID, event.Wave{
			From:      c.player.DisplayName,
			Timestamp: c.s.clock.Now().UnixMilli(),
		})

	case event.SubmitAnswer:
		_, err := c.s.quiz.SubmitAnswer(ctx, cmd.RoundID, c.player, cmd.ChoiceIndex)
		return err

	case event.RequestLock:
		_, err := c.s.quiz.LockRound(ctx, cmd.RoundID, c.player)
		return err
	}

	return apperr.ErrInvalidEvent
}

// reply sends err to this connection alone. It is dropped if the connection
// is already backed up.
func (c *client) reply(err error) {
	data, encErr := event.Encode(event.FromError(err))
	if encErr != nil {
		c.log.Error().Err(encErr).Msg("encode error event")
		return
	}

	select {
	case c.direct <- data:
	default:
	}
}

func (c *client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.Messages():
			if !ok {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.write(websocket.TextMessage, msg.Data); err != nil {
				return
			}

		case data := <-c.direct:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
