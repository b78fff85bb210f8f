package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/event"
	"github.com/Nevug030/ShababsHub/internal/presence"
)

func next(t *testing.T, s *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-s.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func closed(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case _, ok := <-s.Messages():
		require.False(t, ok, "expected closed subscription")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription still open")
	}
}

func newTestBus(buffer int) *Bus {
	return NewBus(zerolog.Nop(), clock.New(), buffer)
}

func TestPublishFanOutInOrder(t *testing.T) {
	bus := newTestBus(16)
	a := bus.Subscribe("room")
	b := bus.Subscribe("room")

	for i := 1; i <= 5; i++ {
		require.NoError(t, bus.Publish("room", event.Next{SessionID: "s", NextRoundNo: i}))
	}

	for _, s := range []*Subscription{a, b} {
		for i := 1; i <= 5; i++ {
			msg := next(t, s)
			assert.Equal(t, i, msg.Event.(event.Next).NextRoundNo)
			assert.Contains(t, string(msg.Data), `"action":"next"`)
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := newTestBus(4)
	assert.NoError(t, bus.Publish("empty", event.Wave{From: "Ann"}))
	assert.Zero(t, bus.Rooms())
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	bus := newTestBus(4)
	bus.Subscribe("room")
	err := bus.Publish("room", event.Wave{})
	assert.ErrorIs(t, err, apperr.ErrInvalidEvent)
}

func TestTrackAndUnsubscribe(t *testing.T) {
	bus := newTestBus(16)
	a := bus.Subscribe("room")
	b := bus.Subscribe("room")

	ann := presence.Entry{PlayerID: "a", DisplayName: "Ann", IsHost: true}
	a.Track(ann)

	for _, s := range []*Subscription{a, b} {
		join := next(t, s).Event.(event.PresenceJoin)
		assert.Equal(t, a.Key(), join.Key)
		assert.Equal(t, ann, join.Entry)

		sync := next(t, s).Event.(event.PresenceSync)
		assert.Equal(t, map[string]presence.Entry{a.Key(): ann}, sync.State)
	}

	assert.Equal(t, []presence.Entry{ann}, bus.Presence("room"))

	a.Unsubscribe()
	a.Unsubscribe()
	closed(t, a)

	leave := next(t, b).Event.(event.PresenceLeave)
	assert.Equal(t, a.Key(), leave.Key)
	assert.Empty(t, bus.Presence("room"))
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	bus := newTestBus(2)
	a := bus.Subscribe("room")
	b := bus.Subscribe("room")

	a.Track(presence.Entry{PlayerID: "a", DisplayName: "Ann"})
	next(t, b)
	next(t, b)

	require.NoError(t, bus.Publish("room", event.Wave{From: "Bob", Timestamp: 1}))

	assert.Equal(t, event.TypeWave, next(t, b).Event.Type())
	leave := next(t, b).Event.(event.PresenceLeave)
	assert.Equal(t, "a", leave.PlayerID)

	// the evicted outbox still holds what it had, then ends
	next(t, a)
	next(t, a)
	closed(t, a)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := newTestBus(8)
	a := bus.Subscribe("room")

	require.NoError(t, bus.Publish("room", event.RoomStatus{Status: "closed"}))
	bus.Close("room")

	assert.Equal(t, "status", next(t, a).Event.Action())
	closed(t, a)
	assert.Zero(t, bus.Rooms())

	a.Unsubscribe()
	a.Track(presence.Entry{PlayerID: "a"})

	// a fresh subscription gets a fresh channel
	b := bus.Subscribe("room")
	require.NoError(t, bus.Publish("room", event.Wave{From: "Ann"}))
	assert.Equal(t, event.TypeWave, next(t, b).Event.Type())
}

func TestRunReapsIdleChannels(t *testing.T) {
	mock := clock.NewMock()
	bus := NewBus(zerolog.Nop(), mock, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Run(ctx, time.Minute)
	}()

	busy := bus.Subscribe("busy")
	idle := bus.Subscribe("idle")
	idle.Unsubscribe()

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		return bus.Rooms() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	closed(t, busy)
	assert.Zero(t, bus.Rooms())
}
