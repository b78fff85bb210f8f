package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nevug030/ShababsHub/internal/identity"
)

func dial(t *testing.T, ts *httptest.Server, code, playerID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + code + "/ws?player_id=" + playerID

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// expect reads frames until one matches typ and action. An empty action
// matches frames without one.
func expect(t *testing.T, conn *websocket.Conn, typ, action string) map[string]any {
	t.Helper()

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s/%s", typ, action)

		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))

		got, _ := msg["action"].(string)
		if msg["type"] == typ && got == action {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestWebsocketRejectsStrangers(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	host := createRoom(t, ts, "Alice")

	_, resp, err := dial(t, ts, host.Code, identity.NewPlayerID())
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, ts, identity.NewRoomCode(), host.PlayerID)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketPresenceAndWave(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	host := createRoom(t, ts, "Alice")
	bob := joinRoom(t, ts, host.Code, "Bob")

	alice, _, err := dial(t, ts, host.Code, host.PlayerID)
	require.NoError(t, err)

	join := expect(t, alice, "presence", "join")
	assert.Equal(t, host.PlayerID, join["player_id"])
	assert.Equal(t, true, join["is_host"])
	expect(t, alice, "presence", "sync")

	bobConn, _, err := dial(t, ts, host.Code, bob)
	require.NoError(t, err)

	join = expect(t, alice, "presence", "join")
	assert.Equal(t, bob, join["player_id"])
	sync := expect(t, alice, "presence", "sync")
	assert.Len(t, sync["state"], 2)

	send(t, bobConn, map[string]any{"type": "presence", "action": "track", "display_name": "Bobby"})
	join = expect(t, alice, "presence", "join")
	assert.Equal(t, "Bobby", join["display_name"])

	var details struct {
		Players []struct {
			PlayerID    string `json:"player_id"`
			DisplayName string `json:"display_name"`
		} `json:"players"`
	}
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/rooms/"+host.Code, nil, &details))
	require.Len(t, details.Players, 2)
	assert.Equal(t, "Bobby", details.Players[1].DisplayName)

	send(t, bobConn, map[string]any{"type": "wave"})
	wave := expect(t, alice, "wave", "")
	assert.Equal(t, "Bobby", wave["from"])
	assert.Contains(t, wave, "timestamp")

	send(t, bobConn, map[string]any{"type": "dance"})
	msg := expect(t, bobConn, "error", "")
	assert.Equal(t, "INVALID_EVENT", msg["code"])

	require.NoError(t, bobConn.Close())
	leave := expect(t, alice, "presence", "leave")
	assert.Equal(t, bob, leave["player_id"])
}

func TestWebsocketQuizRound(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	host := createRoom(t, ts, "Alice")
	bob := joinRoom(t, ts, host.Code, "Bob")

	alice, _, err := dial(t, ts, host.Code, host.PlayerID)
	require.NoError(t, err)
	expect(t, alice, "presence", "sync")

	bobConn, _, err := dial(t, ts, host.Code, bob)
	require.NoError(t, err)
	expect(t, bobConn, "presence", "sync")

	var sess sessionResponse
	require.Equal(t, http.StatusCreated, call(t, ts, http.MethodPost, "/quiz/sessions",
		map[string]string{"room_id": host.Room.ID, "created_by": host.PlayerID}, &sess))

	assert.Equal(t, "in_game", expect(t, bobConn, "room", "status")["status"])
	start := expect(t, bobConn, "quiz", "start")
	assert.Equal(t, sess.Session.ID, start["session_id"])

	var round roundResponse
	require.Equal(t, http.StatusCreated, call(t, ts, http.MethodPost, "/quiz/rounds", map[string]any{
		"session_id": sess.Session.ID, "player_id": host.PlayerID, "round_no": 1, "question": question(1),
	}, &round))

	rs := expect(t, bobConn, "quiz", "round_start")
	assert.Equal(t, round.Round.ID, rs["round_id"])
	assert.NotContains(t, rs, "correct_index")

	send(t, bobConn, map[string]any{"type": "quiz", "action": "answer", "round_id": round.Round.ID, "choice_index": 1})
	ans := expect(t, alice, "quiz", "answer")
	assert.Equal(t, bob, ans["player_id"])
	assert.EqualValues(t, 1, ans["answered_count"])

	send(t, bobConn, map[string]any{"type": "quiz", "action": "lock", "round_id": round.Round.ID})
	assert.Equal(t, "NOT_HOST", expect(t, bobConn, "error", "")["code"])

	send(t, alice, map[string]any{"type": "quiz", "action": "lock", "round_id": round.Round.ID})
	expect(t, bobConn, "quiz", "lock")

	send(t, bobConn, map[string]any{"type": "quiz", "action": "answer", "round_id": round.Round.ID, "choice_index": 2})
	assert.Equal(t, "ROUND_LOCKED", expect(t, bobConn, "error", "")["code"])

	require.Equal(t, http.StatusOK, call(t, ts, http.MethodPost, "/quiz/rounds/"+round.Round.ID+"/reveal",
		map[string]any{"player_id": host.PlayerID, "correct_index": 1}, nil))

	reveal := expect(t, alice, "quiz", "reveal")
	assert.EqualValues(t, 1, reveal["correct_index"])
	assert.Equal(t, []any{bob}, reveal["correct_players"])
}

func TestWebsocketRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.clientRate = 0.001
	cfg.clientBurst = 1
	_, ts := newTestServer(t, cfg)

	host := createRoom(t, ts, "Alice")

	alice, _, err := dial(t, ts, host.Code, host.PlayerID)
	require.NoError(t, err)

	send(t, alice, map[string]any{"type": "wave"})
	expect(t, alice, "wave", "")

	send(t, alice, map[string]any{"type": "wave"})
	assert.Equal(t, "RATE_LIMITED", expect(t, alice, "error", "")["code"])
}

func TestRoomCloseEndsConnections(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	host := createRoom(t, ts, "Alice")

	alice, _, err := dial(t, ts, host.Code, host.PlayerID)
	require.NoError(t, err)
	expect(t, alice, "presence", "sync")

	require.Equal(t, http.StatusOK, call(t, ts, http.MethodPost, "/rooms/"+host.Code+"/leave",
		map[string]string{"player_id": host.PlayerID}, nil))

	assert.Equal(t, "closed", expect(t, alice, "room", "status")["status"])

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = alice.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
