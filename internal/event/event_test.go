package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/presence"
)

func decode(t *testing.T, e Event) map[string]any {
	t.Helper()
	data, err := Encode(e)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestEncodeFlattensFields(t *testing.T) {
	out := decode(t, PresenceJoin{Key: "k1", Entry: presence.Entry{PlayerID: "a", DisplayName: "Ann", IsHost: true}})
	assert.Equal(t, map[string]any{
		"type":         "presence",
		"action":       "join",
		"key":          "k1",
		"player_id":    "a",
		"display_name": "Ann",
		"is_host":      true,
	}, out)
}

func TestEncodeWaveHasNoAction(t *testing.T) {
	out := decode(t, Wave{From: "Ann", Timestamp: 1700000000000})
	assert.Equal(t, "wave", out["type"])
	assert.NotContains(t, out, "action")
	assert.Equal(t, "Ann", out["from"])
}

func TestAnswerEventHidesChoice(t *testing.T) {
	out := decode(t, Answer{RoundID: "r1", PlayerID: "a", DisplayName: "Ann", AnsweredCount: 2})
	assert.Equal(t, "answer", out["action"])
	assert.NotContains(t, out, "choice_index")
	assert.EqualValues(t, 2, out["answered_count"])
}

func TestRoundStartCarriesDeadline(t *testing.T) {
	deadline := time.Date(2025, 3, 1, 12, 0, 20, 0, time.UTC)
	out := decode(t, RoundStart{
		RoundID: "r1", RoundNo: 1, QuestionText: "2+2?",
		Choices: []string{"3", "4", "5", "6"}, Deadline: deadline, TotalRounds: 10,
	})
	assert.Equal(t, "2025-03-01T12:00:20Z", out["deadline"])
	assert.Equal(t, "round_start", out["action"])
}

func TestEncodeRejectsInvalid(t *testing.T) {
	cases := map[string]Event{
		"nil":               nil,
		"join without key":  PresenceJoin{Entry: presence.Entry{PlayerID: "a"}},
		"wave without from": Wave{},
		"short choices":     RoundStart{RoundID: "r", RoundNo: 1, QuestionText: "q", Choices: []string{"a"}},
		"bad correct":       Reveal{RoundID: "r", CorrectIndex: 4, CorrectPlayers: []string{}, Scores: []Score{}},
		"unknown status":    RoomStatus{Status: "paused"},
		"zero rounds":       Start{SessionID: "s"},
		"end without rows":  End{SessionID: "s"},
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(e)
			assert.ErrorIs(t, err, apperr.ErrInvalidEvent)
		})
	}
}

func TestFromError(t *testing.T) {
	e := FromError(apperr.ErrRoundLocked)
	assert.Equal(t, "ROUND_LOCKED", e.Code)

	e = FromError(assert.AnError)
	assert.Equal(t, "INTERNAL", e.Code)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"presence","action":"track","display_name":"  Bob "}`))
	require.NoError(t, err)
	assert.Equal(t, Track{DisplayName: "Bob"}, cmd)

	cmd, err = ParseCommand([]byte(`{"type":"wave"}`))
	require.NoError(t, err)
	assert.Equal(t, SendWave{}, cmd)

	cmd, err = ParseCommand([]byte(`{"type":"quiz","action":"answer","round_id":"r1","choice_index":0}`))
	require.NoError(t, err)
	assert.Equal(t, SubmitAnswer{RoundID: "r1", ChoiceIndex: 0}, cmd)

	cmd, err = ParseCommand([]byte(`{"type":"quiz","action":"lock","round_id":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, RequestLock{RoundID: "r1"}, cmd)
}

func TestParseCommandRejects(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"quiz","action":"answer","round_id":"r1"}`,
		`{"type":"quiz","action":"reveal","round_id":"r1"}`,
		`{"type":"presence","action":"track","display_name":"x"}`,
		`{"type":"chat"}`,
	} {
		_, err := ParseCommand([]byte(raw))
		assert.ErrorIs(t, err, apperr.ErrInvalidEvent, raw)
	}
}
