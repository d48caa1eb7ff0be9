package server

import (
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonycast/harmonycast/internal/domain"
)

func newTestHub(clock clockwork.Clock) *Hub {
	return NewHub(testServerConfig(), clock, slog.Default())
}

func TestHub_GetOrCreate(t *testing.T) {
	hub := newTestHub(clockwork.NewFakeClock())

	def := hub.GetOrCreate("")
	assert.Equal(t, "default", def.Name())
	assert.Same(t, def, hub.GetOrCreate("default"))

	other := hub.GetOrCreate("lounge")
	assert.NotSame(t, def, other)

	rooms, clients := hub.Stats()
	assert.Equal(t, 2, rooms)
	assert.Zero(t, clients)
}

func TestHub_DropReapsEmptyRoom(t *testing.T) {
	hub := newTestHub(clockwork.NewFakeClock())

	room := hub.GetOrCreate("lounge")
	room.Add("aaa111", "", "", &mockConn{}, false)
	room.Add("bbb222", "", "", &mockConn{}, false)

	hub.Drop(room, "aaa111")
	rooms, clients := hub.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, clients)

	hub.Drop(room, "bbb222")
	rooms, _ = hub.Stats()
	assert.Zero(t, rooms)

	// A new join after reaping gets a fresh room.
	assert.NotSame(t, room, hub.GetOrCreate("lounge"))
}

func TestHub_Views(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	hub := newTestHub(clock)

	room := hub.GetOrCreate("lounge")
	host := &mockConn{}
	room.Add("aaa111", "", "", host, false)
	room.HandleControl("aaa111", domain.Message{Type: domain.TypeControl, Action: domain.ActionSetTrack, TrackURL: "/media/a.mp3"})
	room.HandleControl("aaa111", domain.Message{Type: domain.TypeControl, Action: domain.ActionPlay})
	clock.Advance(4 * time.Second)

	views := hub.Views()
	require.Len(t, views, 1)
	assert.Equal(t, "lounge", views[0].Name)
	assert.Equal(t, 1, views[0].Clients)
	assert.Equal(t, "/media/a.mp3", views[0].TrackURL)
	assert.False(t, views[0].Paused)
	assert.InDelta(t, 4.0, views[0].PositionSec, 1e-9)
}

func TestHub_BeatBroadcastsAndReapsStale(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	hub := newTestHub(clock)

	room := hub.GetOrCreate("lounge")
	live, dead := &mockConn{}, &mockConn{}
	room.Add("aaa111", "", "", live, false)
	room.Add("bbb222", "", "", dead, false)

	hub.beat()
	ping, ok := live.last(domain.TypePing)
	require.True(t, ok)
	assert.Equal(t, clock.Now().UnixMilli(), ping.T0)

	snapshot, ok := live.last(domain.TypeState)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonPeriodic, snapshot.Reason)

	// Only the silent participant goes stale.
	clock.Advance(21 * time.Second)
	room.HandlePong("aaa111")
	hub.beat()

	assert.True(t, dead.closed)
	_, clients := hub.Stats()
	assert.Equal(t, 1, clients)
}
