package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/Nevug030/ShababsHub/internal/event"
	"github.com/Nevug030/ShababsHub/internal/presence"
)

type trackRequest struct {
	sub   *Subscription
	entry presence.Entry
}

type channel struct {
	roomID string
	log    zerolog.Logger
	clock  clock.Clock

	register  chan *Subscription
	unreg     chan *Subscription
	tracks    chan trackRequest
	publish   chan Message
	snapshots chan chan []presence.Entry
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	// owned by run
	subs    map[*Subscription]bool
	tracker *presence.Tracker

	subscribers atomic.Int32
	lastActive  atomic.Int64
}

func newChannel(roomID string, log zerolog.Logger, clk clock.Clock) *channel {
	c := &channel{
		roomID:    roomID,
		log:       log.With().Str("room_id", roomID).Logger(),
		clock:     clk,
		register:  make(chan *Subscription),
		unreg:     make(chan *Subscription),
		tracks:    make(chan trackRequest),
		publish:   make(chan Message),
		snapshots: make(chan chan []presence.Entry),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		subs:      make(map[*Subscription]bool),
		tracker:   presence.New(),
	}
	c.touch()

	return c
}

func (c *channel) touch() {
	c.lastActive.Store(c.clock.Now().UnixNano())
}

func (c *channel) shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *channel) run() {
	defer close(c.done)

	for {
		select {
		case s := <-c.register:
			c.touch()
			c.subs[s] = true
			c.subscribers.Add(1)
			c.log.Debug().Str("key", s.key).Msg("subscribed")

		case s := <-c.unreg:
			c.touch()
			if c.subs[s] {
				c.drop(s)
			}

		case tr := <-c.tracks:
			c.touch()
			if !c.subs[tr.sub] {
				continue
			}
			diff := c.tracker.Track(tr.sub.key, tr.entry)
			c.announce(diff, true)

		case msg := <-c.publish:
			c.touch()
			c.fanout(msg)

		case reply := <-c.snapshots:
			reply <- c.tracker.Players()

		case <-c.stop:
			for s := range c.subs {
				delete(c.subs, s)
				close(s.out)
			}
			c.subscribers.Store(0)
			return
		}
	}
}

// drop removes s and tells everyone else its presence is gone.
func (c *channel) drop(s *Subscription) {
	delete(c.subs, s)
	close(s.out)
	c.subscribers.Add(-1)

	c.announce(c.tracker.Untrack(s.key), c.tracker.Len() > 0)
}

// announce publishes a presence diff followed, if withState is set, by the
// full state.
func (c *channel) announce(diff presence.Diff, withState bool) {
	if diff.Empty() {
		return
	}

	for key, e := range diff.Leaves {
		c.fanoutEvent(event.PresenceLeave{Key: key, Entry: e})
	}
	for key, e := range diff.Joins {
		c.fanoutEvent(event.PresenceJoin{Key: key, Entry: e})
	}
	if withState {
		c.fanoutEvent(event.PresenceSync{State: c.tracker.State()})
	}
}

func (c *channel) fanoutEvent(e event.Event) {
	data, err := event.Encode(e)
	if err != nil {
		c.log.Error().Err(err).Msg("dropping invalid presence event")
		return
	}
	c.fanout(Message{Event: e, Data: data})
}

func (c *channel) fanout(msg Message) {
	var slow []*Subscription
	for s := range c.subs {
		select {
		case s.out <- msg:
		default:
			slow = append(slow, s)
		}
	}

	for _, s := range slow {
		if !c.subs[s] {
			continue
		}
		c.log.Warn().Str("key", s.key).Msg("evicting slow subscriber")
		c.drop(s)
	}
}
