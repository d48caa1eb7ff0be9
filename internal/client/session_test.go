package client

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonycast/harmonycast/internal/domain"
	"github.com/harmonycast/harmonycast/internal/engine"
	"github.com/harmonycast/harmonycast/internal/player"
)

type fakeTransport struct {
	events chan Event
	sent   []domain.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 16)}
}

func (f *fakeTransport) Events() <-chan Event  { return f.events }
func (f *fakeTransport) Send(m domain.Message) { f.sent = append(f.sent, m) }

func (f *fakeTransport) sentTypes() []string {
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Type)
	}
	return out
}

// recordingPlayer wraps the simulated player and logs facade calls.
type recordingPlayer struct {
	*player.Simulated
	calls []string
}

func newRecordingPlayer(clock clockwork.Clock) *recordingPlayer {
	return &recordingPlayer{Simulated: player.NewSimulated(clock)}
}

func (p *recordingPlayer) SeekTo(sec float64) {
	p.calls = append(p.calls, fmt.Sprintf("seek:%.3f", sec))
	p.Simulated.SeekTo(sec)
}

func (p *recordingPlayer) SetRate(rate float64) {
	p.calls = append(p.calls, fmt.Sprintf("rate:%.4f", rate))
	p.Simulated.SetRate(rate)
}

func (p *recordingPlayer) Load(ref string) {
	p.calls = append(p.calls, "load:"+ref)
	p.Simulated.Load(ref)
}

func (p *recordingPlayer) seekCount() int {
	n := 0
	for _, c := range p.calls {
		if len(c) > 4 && c[:4] == "seek" {
			n++
		}
	}
	return n
}

func newTestSession(clock clockwork.Clock) (*Session, *fakeTransport, *recordingPlayer) {
	tr := newFakeTransport()
	pl := newRecordingPlayer(clock)
	s := NewSession(SessionConfig{Name: "tester", WantHost: false}, tr, pl, clock, slog.Default())
	return s, tr, pl
}

func connect(s *Session) {
	s.handleConn(Event{Kind: EventConnected})
}

func deliver(s *Session, msg domain.Message) {
	s.handleConn(Event{Kind: EventMessage, Msg: msg})
}

// calibrate gives the session a zero-offset clock estimate.
func calibrate(s *Session, clock clockwork.Clock) {
	deliver(s, domain.Message{Type: domain.TypePing, T0: clock.Now().UnixMilli()})
}

func TestSession_HelloOnConnect(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	s, tr, _ := newTestSession(clock)

	connect(s)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, domain.TypeHello, tr.sent[0].Type)
	assert.Equal(t, "tester", tr.sent[0].Name)
	assert.False(t, tr.sent[0].WantHost)
}

func TestSession_InitSeedsIdentityAndState(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	s, _, pl := newTestSession(clock)
	connect(s)
	calibrate(s, clock)

	isHost := true
	deliver(s, domain.Message{
		Type:     domain.TypeInit,
		ClientID: "abc123",
		IsHost:   &isHost,
		State:    &domain.RoomState{TrackURL: "/media/a.mp3", Paused: true, PositionSec: 12, PlaybackRate: 1, Volume: 0.8},
	})

	id := s.Identity()
	assert.Equal(t, "abc123", id.ClientID)
	assert.True(t, id.IsHost)

	assert.Equal(t, "/media/a.mp3", pl.Track())
	assert.InDelta(t, 12.0, pl.Position(), 1e-9)
	assert.Equal(t, 0.8, pl.Volume())
	assert.False(t, pl.Playing())

	st := s.Status()
	assert.True(t, st.HaveState)
	assert.Equal(t, 12.0, st.State.PositionSec)
}

func TestSession_PingAnsweredAndCalibrates(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(5_000_000))
	s, tr, _ := newTestSession(clock)
	connect(s)

	deliver(s, domain.Message{Type: domain.TypePing, T0: 4_999_970})

	require.Len(t, tr.sent, 2, "hello then pong")
	assert.Equal(t, domain.TypePong, tr.sent[1].Type)
	assert.Equal(t, int64(4_999_970), tr.sent[1].T0)
	assert.True(t, s.Status().Clock.Calibrated)
	assert.Equal(t, int64(-30), s.Status().Clock.OffsetMs)
}

func TestSession_SeekSnapshotAlignsOnceThenHoldsDeadBand(t *testing.T) {
	now := int64(10_000_000)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(now))
	s, _, pl := newTestSession(clock)
	connect(s)
	calibrate(s, clock)

	// Host seeked to 30s while playing; server timeline says so.
	deliver(s, domain.Message{
		Type:   domain.TypeState,
		Reason: domain.ReasonSeek,
		State:  &domain.RoomState{Paused: false, PositionSec: 30, StartEpochMs: now - 30_000, PlaybackRate: 1, Volume: 1},
	})

	require.Equal(t, 1, pl.seekCount())
	assert.Contains(t, pl.calls, "seek:30.000")
	assert.True(t, pl.Playing())

	// Absent jitter the player tracks the timeline exactly; the
	// controller must stay inside the dead band and never seek again.
	for i := 0; i < 300; i++ {
		clock.Advance(200 * time.Millisecond)
		s.tick()
	}
	assert.Equal(t, 1, pl.seekCount())
	assert.InDelta(t, 1.0, s.Status().AppliedRate, 1e-9)
	assert.InDelta(t, s.Status().DesiredSec, s.Status().ActualSec, 0.025)
}

func TestSession_HardSeekAfterLargeDrift(t *testing.T) {
	now := int64(20_000_000)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(now))
	s, _, pl := newTestSession(clock)
	connect(s)
	calibrate(s, clock)

	deliver(s, domain.Message{
		Type:   domain.TypeState,
		Reason: domain.ReasonPlay,
		State:  &domain.RoomState{Paused: false, StartEpochMs: now, PlaybackRate: 1, Volume: 1},
	})
	before := pl.seekCount()

	// The player stalls silently for 3 seconds: drift exceeds the
	// hard-seek limit and the next tick must jump.
	pl.Pause()
	clock.Advance(3 * time.Second)
	pl.Play()
	s.tick()

	assert.Equal(t, before+1, pl.seekCount())
	assert.InDelta(t, s.Status().DesiredSec, pl.Position(), 0.01)
}

func TestSession_HostTransferReissuesHello(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	s, tr, _ := newTestSession(clock)
	connect(s)
	calibrate(s, clock)

	deliver(s, domain.Message{
		Type:   domain.TypeState,
		Reason: domain.ReasonHostTransfer,
		State:  &domain.RoomState{Paused: true, PlaybackRate: 1, Volume: 1},
	})

	types := tr.sentTypes()
	require.GreaterOrEqual(t, len(types), 3)
	assert.Equal(t, domain.TypeHello, types[len(types)-1], "role re-requested after host transfer")
}

func TestSession_MalformedMessagesLeaveStateUntouched(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	s, _, _ := newTestSession(clock)
	connect(s)
	calibrate(s, clock)

	deliver(s, domain.Message{Type: domain.TypeState, Reason: domain.ReasonSeek, State: &domain.RoomState{Paused: true, PositionSec: 42, PlaybackRate: 1, Volume: 1}})
	require.True(t, s.Status().HaveState)

	deliver(s, domain.Message{Type: domain.TypeState, Reason: domain.ReasonSeek, State: nil})
	deliver(s, domain.Message{Type: domain.TypeInit, State: nil})
	deliver(s, domain.Message{Type: "garbage"})
	deliver(s, domain.Message{Type: domain.TypePing, T0: 0})

	assert.Equal(t, 42.0, s.Status().State.PositionSec)
}

func TestSession_ReconnectResetsCalibration(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	s, _, _ := newTestSession(clock)
	connect(s)
	calibrate(s, clock)
	require.True(t, s.Status().Clock.Calibrated)

	s.handleConn(Event{Kind: EventDisconnected})
	connect(s)

	assert.False(t, s.Status().Clock.Calibrated)
	assert.False(t, s.Status().HaveState, "next snapshot counts as first of session")
}

func TestSession_Deterministic(t *testing.T) {
	run := func() ([]string, []domain.Message) {
		now := int64(7_000_000)
		clock := clockwork.NewFakeClockAt(time.UnixMilli(now))
		s, tr, pl := newTestSession(clock)
		connect(s)
		calibrate(s, clock)

		deliver(s, domain.Message{
			Type:   domain.TypeState,
			Reason: domain.ReasonPlay,
			State:  &domain.RoomState{Paused: false, StartEpochMs: now - 5_000, PlaybackRate: 1, Volume: 1},
		})
		for i := 0; i < 100; i++ {
			clock.Advance(200 * time.Millisecond)
			s.tick()
			if i == 40 {
				deliver(s, domain.Message{
					Type:   domain.TypeState,
					Reason: domain.ReasonSeek,
					State:  &domain.RoomState{Paused: false, StartEpochMs: clock.Now().UnixMilli() - 90_000, PlaybackRate: 1, Volume: 1},
				})
			}
		}
		return pl.calls, tr.sent
	}

	calls1, sent1 := run()
	calls2, sent2 := run()
	assert.Equal(t, calls1, calls2, "identical inputs must produce identical facade calls")
	assert.Equal(t, sent1, sent2)
}

func TestSession_IntentsAreRequestsOnly(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	s, _, pl := newTestSession(clock)
	connect(s)

	s.Play()
	s.Seek(30)
	s.SetVolume(0.5)

	// Nothing applied optimistically.
	assert.False(t, pl.Playing())
	assert.Zero(t, pl.Position())
	assert.Equal(t, 1.0, pl.Volume())

	// The queued intents are plain control messages.
	m := <-s.intents
	assert.Equal(t, domain.ActionPlay, m.Action)
	m = <-s.intents
	require.NotNil(t, m.PositionSec)
	assert.Equal(t, 30.0, *m.PositionSec)
	m = <-s.intents
	require.NotNil(t, m.Volume)
	assert.Equal(t, 0.5, *m.Volume)
}

func TestSession_UncalibratedSuppressesCorrection(t *testing.T) {
	now := int64(9_000_000)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(now))
	s, _, pl := newTestSession(clock)
	connect(s)
	// No calibration on purpose.

	deliver(s, domain.Message{
		Type:   domain.TypeState,
		Reason: domain.ReasonPeriodic,
		State:  &domain.RoomState{Paused: false, StartEpochMs: now - 60_000, PlaybackRate: 1, Volume: 1},
	})
	seeks := pl.seekCount()

	for i := 0; i < 20; i++ {
		clock.Advance(200 * time.Millisecond)
		s.tick()
	}
	assert.Equal(t, seeks, pl.seekCount(), "no correction on a meaningless offset")

	var tuning = engine.DefaultTuning()
	assert.InDelta(t, 1.0, s.Status().AppliedRate, tuning.MaxSlew)
}
