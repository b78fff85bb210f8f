// Package presence tracks which players are connected to a room right now.
// Presence is ephemeral and independent of persisted membership.
package presence

import (
	"maps"
	"slices"
	"sort"
)

// Entry is what a connection announces about itself.
type Entry struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	IsHost      bool   `json:"is_host"`
}

// Diff lists the connection keys that appeared or disappeared (or changed
// their entry, which shows up as a leave followed by a join).
type Diff struct {
	Joins  map[string]Entry
	Leaves map[string]Entry
}

func (d Diff) Empty() bool {
	return len(d.Joins) == 0 && len(d.Leaves) == 0
}

// Compare returns what changed between two states keyed by connection.
func Compare(prev, next map[string]Entry) Diff {
	d := Diff{Joins: map[string]Entry{}, Leaves: map[string]Entry{}}

	for key, old := range prev {
		cur, ok := next[key]
		if !ok {
			d.Leaves[key] = old
			continue
		}
		if cur != old {
			d.Leaves[key] = old
			d.Joins[key] = cur
		}
	}
	for key, cur := range next {
		if _, ok := prev[key]; !ok {
			d.Joins[key] = cur
		}
	}

	return d
}

// Tracker is owned by a single goroutine.
type Tracker struct {
	entries map[string]Entry
}

func New() *Tracker {
	return &Tracker{entries: make(map[string]Entry)}
}

func (t *Tracker) Track(key string, e Entry) Diff {
	prev := maps.Clone(t.entries)
	t.entries[key] = e
	return Compare(prev, t.entries)
}

func (t *Tracker) Untrack(key string) Diff {
	if _, ok := t.entries[key]; !ok {
		return Diff{}
	}
	prev := maps.Clone(t.entries)
	delete(t.entries, key)
	return Compare(prev, t.entries)
}

func (t *Tracker) Len() int {
	return len(t.entries)
}

// State returns a copy of every tracked connection.
func (t *Tracker) State() map[string]Entry {
	return maps.Clone(t.entries)
}

// Players collapses connections to one entry per player, ordered by player id.
// A player counts as host if any of their connections says so.
func (t *Tracker) Players() []Entry {
	byPlayer := make(map[string]Entry, len(t.entries))

	keys := slices.Sorted(maps.Keys(t.entries))
	for _, key := range keys {
		e := t.entries[key]
		cur, ok := byPlayer[e.PlayerID]
		if !ok {
			byPlayer[e.PlayerID] = e
			continue
		}
		cur.IsHost = cur.IsHost || e.IsHost
		byPlayer[e.PlayerID] = cur
	}

	out := make([]Entry, 0, len(byPlayer))
	for _, e := range byPlayer {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })

	return out
}
