package player

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_AdvancesAtAppliedRate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewSimulated(clock)

	p.Play()
	clock.Advance(10 * time.Second)
	assert.InDelta(t, 10.0, p.Position(), 1e-9)

	p.SetRate(1.5)
	clock.Advance(10 * time.Second)
	assert.InDelta(t, 25.0, p.Position(), 1e-9)
}

func TestSimulated_PauseFreezesPosition(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewSimulated(clock)

	p.Play()
	clock.Advance(5 * time.Second)
	p.Pause()
	clock.Advance(1 * time.Minute)
	assert.InDelta(t, 5.0, p.Position(), 1e-9)
}

func TestSimulated_SeekAndLoad(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewSimulated(clock)

	p.SeekTo(30)
	assert.InDelta(t, 30.0, p.Position(), 1e-9)

	p.SeekTo(-5)
	assert.Zero(t, p.Position())

	p.Play()
	clock.Advance(3 * time.Second)
	p.Load("/media/next.mp3")
	require.Equal(t, "/media/next.mp3", p.Track())
	assert.Zero(t, p.Position())
	assert.False(t, p.Playing(), "a freshly loaded track starts paused")
}

func TestSimulated_ClampsVolume(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewSimulated(clock)

	p.SetVolume(1.7)
	assert.Equal(t, 1.0, p.Volume())
	p.SetVolume(-0.2)
	assert.Equal(t, 0.0, p.Volume())
	p.SetVolume(0.4)
	assert.Equal(t, 0.4, p.Volume())
}
