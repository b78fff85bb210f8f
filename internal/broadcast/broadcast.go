// Package broadcast is the per-room publish/subscribe bus. Each room gets one
// channel goroutine that owns its subscribers and its presence tracker.
// Delivery is at most once: a subscriber that cannot keep up is dropped and
// nothing is replayed.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Nevug030/ShababsHub/internal/event"
	"github.com/Nevug030/ShababsHub/internal/presence"
)

// Message is an event together with its encoded form.
type Message struct {
	Event event.Event
	Data  []byte
}

type Bus struct {
	mu       sync.Mutex
	channels map[string]*channel

	log    zerolog.Logger
	clock  clock.Clock
	buffer int
}

// NewBus gives every subscriber an outbox of buffer messages.
func NewBus(log zerolog.Logger, clk clock.Clock, buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		channels: make(map[string]*channel),
		log:      log.With().Str("component", "broadcast").Logger(),
		clock:    clk,
		buffer:   buffer,
	}
}

func (b *Bus) get(roomID string, create bool) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.channels[roomID]; ok {
		return c
	}
	if !create {
		return nil
	}

	c := newChannel(roomID, b.log, b.clock)
	b.channels[roomID] = c
	go c.run()

	return c
}

func (b *Bus) remove(roomID string, c *channel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channels[roomID] == c {
		delete(b.channels, roomID)
	}
}

// Subscribe attaches a new connection to the room's channel, creating the
// channel if needed. The subscription is not part of presence until Track.
func (b *Bus) Subscribe(roomID string) *Subscription {
	for {
		c := b.get(roomID, true)
		s := &Subscription{
			key: uuid.NewString(),
			ch:  c,
			out: make(chan Message, b.buffer),
		}

		select {
		case c.register <- s:
			return s
		case <-c.done:
			// lost a race with Close or the reaper; the next get starts afresh
			b.remove(roomID, c)
		}
	}
}

// Publish validates and encodes e once, then fans it out to everyone in the
// room. Publishing to a room without subscribers is a no-op.
func (b *Bus) Publish(roomID string, e event.Event) error {
	data, err := event.Encode(e)
	if err != nil {
		return err
	}

	c := b.get(roomID, false)
	if c == nil {
		return nil
	}

	select {
	case c.publish <- Message{Event: e, Data: data}:
	case <-c.done:
	}

	return nil
}

// Presence returns who is connected to the room, one entry per player.
func (b *Bus) Presence(roomID string) []presence.Entry {
	c := b.get(roomID, false)
	if c == nil {
		return []presence.Entry{}
	}

	reply := make(chan []presence.Entry, 1)
	select {
	case c.snapshots <- reply:
		return <-reply
	case <-c.done:
		return []presence.Entry{}
	}
}

// Close shuts the room's channel. Everything already published is still in
// the subscribers' outboxes; their message streams end after it.
func (b *Bus) Close(roomID string) {
	c := b.get(roomID, false)
	if c == nil {
		return
	}
	b.remove(roomID, c)
	c.shutdown()
}

// Rooms reports how many channels are live.
func (b *Bus) Rooms() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.channels)
}

// Run reaps channels that have had no subscribers for idle, until ctx ends.
// Then it closes every remaining channel.
func (b *Bus) Run(ctx context.Context, idle time.Duration) error {
	defer b.closeAll()

	if idle <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := b.clock.Ticker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.reap(idle)
		}
	}
}

func (b *Bus) reap(idle time.Duration) {
	cutoff := b.clock.Now().Add(-idle).UnixNano()

	b.mu.Lock()
	var stale []*channel
	for id, c := range b.channels {
		if c.subscribers.Load() == 0 && c.lastActive.Load() < cutoff {
			delete(b.channels, id)
			stale = append(stale, c)
		}
	}
	b.mu.Unlock()

	for _, c := range stale {
		b.log.Debug().Str("room_id", c.roomID).Msg("reaping idle channel")
		c.shutdown()
	}
}

func (b *Bus) closeAll() {
	b.mu.Lock()
	all := make([]*channel, 0, len(b.channels))
	for id, c := range b.channels {
		delete(b.channels, id)
		all = append(all, c)
	}
	b.mu.Unlock()

	for _, c := range all {
		c.shutdown()
	}
}

// Subscription is one connection's view of a room.
type Subscription struct {
	key  string
	ch   *channel
	out  chan Message
	once sync.Once
}

// Key identifies the connection in presence events.
func (s *Subscription) Key() string {
	return s.key
}

// Messages is closed when the subscription ends for any reason.
func (s *Subscription) Messages() <-chan Message {
	return s.out
}

// Track announces (or re-announces) the connection's presence.
func (s *Subscription) Track(e presence.Entry) {
	select {
	case s.ch.tracks <- trackRequest{sub: s, entry: e}:
	case <-s.ch.done:
	}
}

// Unsubscribe is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		select {
		case s.ch.unreg <- s:
		case <-s.ch.done:
		}
	})
}
