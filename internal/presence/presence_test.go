package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackAndUntrack(t *testing.T) {
	tr := New()
	ann := Entry{PlayerID: "a", DisplayName: "Ann", IsHost: true}

	d := tr.Track("k1", ann)
	assert.Equal(t, map[string]Entry{"k1": ann}, d.Joins)
	assert.Empty(t, d.Leaves)

	d = tr.Track("k1", ann)
	assert.True(t, d.Empty())

	d = tr.Untrack("k1")
	assert.Equal(t, map[string]Entry{"k1": ann}, d.Leaves)
	assert.Empty(t, d.Joins)
	assert.Zero(t, tr.Len())

	d = tr.Untrack("k1")
	assert.True(t, d.Empty())
}

func TestRenameIsLeaveThenJoin(t *testing.T) {
	tr := New()
	tr.Track("k1", Entry{PlayerID: "b", DisplayName: "Bob"})

	d := tr.Track("k1", Entry{PlayerID: "b", DisplayName: "Bobby"})
	require.Contains(t, d.Leaves, "k1")
	require.Contains(t, d.Joins, "k1")
	assert.Equal(t, "Bob", d.Leaves["k1"].DisplayName)
	assert.Equal(t, "Bobby", d.Joins["k1"].DisplayName)
}

func TestPlayersCollapsesTabs(t *testing.T) {
	tr := New()
	tr.Track("k1", Entry{PlayerID: "b", DisplayName: "Bob"})
	tr.Track("k2", Entry{PlayerID: "a", DisplayName: "Ann"})
	tr.Track("k3", Entry{PlayerID: "a", DisplayName: "Ann", IsHost: true})

	players := tr.Players()
	require.Len(t, players, 2)
	assert.Equal(t, "a", players[0].PlayerID)
	assert.True(t, players[0].IsHost)
	assert.Equal(t, "b", players[1].PlayerID)

	state := tr.State()
	assert.Len(t, state, 3)
	delete(state, "k1")
	assert.Equal(t, 3, tr.Len())
}

func TestCompare(t *testing.T) {
	prev := map[string]Entry{"x": {PlayerID: "1"}, "y": {PlayerID: "2"}}
	next := map[string]Entry{"y": {PlayerID: "2"}, "z": {PlayerID: "3"}}

	d := Compare(prev, next)
	assert.Equal(t, map[string]Entry{"z": {PlayerID: "3"}}, d.Joins)
	assert.Equal(t, map[string]Entry{"x": {PlayerID: "1"}}, d.Leaves)
}
