// Package player provides adapters for the playback facade the sync
// engine drives.
package player

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/harmonycast/harmonycast/internal/domain"
)

// Simulated is a headless player: position advances with the wall clock at
// the applied rate while playing. It backs the CLI listener (which has no
// real audio output) and the engine tests.
type Simulated struct {
	mu sync.Mutex

	clock clockwork.Clock

	track   string
	playing bool
	rate    float64
	volume  float64

	// pos is the position materialized at mark; Position extrapolates
	// from there.
	pos  float64
	mark time.Time
}

var _ domain.Player = (*Simulated)(nil)

func NewSimulated(clock clockwork.Clock) *Simulated {
	return &Simulated{
		clock:  clock,
		rate:   1.0,
		volume: 1.0,
		mark:   clock.Now(),
	}
}

// advance materializes the position up to now. Callers hold mu.
func (s *Simulated) advance() {
	now := s.clock.Now()
	if s.playing {
		s.pos += now.Sub(s.mark).Seconds() * s.rate
	}
	s.mark = now
}

func (s *Simulated) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.pos
}

func (s *Simulated) SeekTo(sec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	if sec < 0 {
		sec = 0
	}
	s.pos = sec
}

func (s *Simulated) SetRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	if rate > 0 {
		s.rate = rate
	}
}

func (s *Simulated) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.volume = v
}

func (s *Simulated) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.playing = true
}

func (s *Simulated) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.playing = false
}

func (s *Simulated) Load(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.track = ref
	s.pos = 0
	s.playing = false
}

// Buffering always reports false: a simulation never stalls.
func (s *Simulated) Buffering() bool { return false }

// Rate returns the currently applied playback rate.
func (s *Simulated) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Volume returns the current volume.
func (s *Simulated) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Track returns the currently loaded source.
func (s *Simulated) Track() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// Playing reports whether the simulation is advancing.
func (s *Simulated) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}
