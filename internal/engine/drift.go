package engine

import (
	"math"
	"time"
)

// Tuning holds the drift-controller constants. The defaults are what the
// loop was tuned with against typical home-network jitter.
type Tuning struct {
	TickInterval    time.Duration
	DeadBandMs      float64
	HardSeekLimitMs float64
	// Kp and Ki are the proportional and integral gains, per second.
	Kp float64
	Ki float64
	// MaxNudge caps the rate offset applied on top of the base rate.
	MaxNudge float64
	// MaxSlew caps how far the applied rate may move per tick.
	MaxSlew float64
	// Smoothing is the exponential step taken toward the slewed target.
	Smoothing float64
	// MinRate and MaxRate are the hard sanity bounds on the applied rate.
	MinRate float64
	MaxRate float64
}

func DefaultTuning() Tuning {
	return Tuning{
		TickInterval:    200 * time.Millisecond,
		DeadBandMs:      25,
		HardSeekLimitMs: 1500,
		Kp:              0.10,
		Ki:              0.02,
		MaxNudge:        0.015,
		MaxSlew:         0.004,
		Smoothing:       0.30,
		MinRate:         0.5,
		MaxRate:         2.0,
	}
}

// CommandKind classifies what a tick asks the player to do.
type CommandKind int

const (
	// CmdNone means leave the player alone this tick.
	CmdNone CommandKind = iota
	// CmdSeek is a hard seek: jump to SeekToSec and reset to Rate.
	CmdSeek
	// CmdRate applies a corrected playback rate.
	CmdRate
)

// Command is the player side effect produced by one controller tick.
type Command struct {
	Kind      CommandKind
	SeekToSec float64
	Rate      float64
}

// TickInput is everything the controller looks at on one tick.
type TickInput struct {
	DesiredSec float64
	ActualSec  float64
	Paused     bool
	Buffering  bool
	Calibrated bool
}

// Controller turns per-tick drift into no-op, rate nudge or hard seek.
// It is pure state-machine arithmetic: identical tick sequences produce
// identical command sequences.
type Controller struct {
	tuning   Tuning
	base     float64
	applied  float64
	integral float64
}

func NewController(t Tuning) *Controller {
	return &Controller{tuning: t, base: 1.0, applied: 1.0}
}

// SetBaseRate adopts the authoritative playback rate from a snapshot.
func (c *Controller) SetBaseRate(rate float64) {
	if rate <= 0 {
		return
	}
	c.base = rate
}

// OnSnapshot halves the integral term so stale accumulated error does not
// fight a fresh authoritative timeline.
func (c *Controller) OnSnapshot() {
	c.integral /= 2
}

func (c *Controller) AppliedRate() float64 {
	return c.applied
}

// Tick evaluates the correction policy; first match wins.
func (c *Controller) Tick(in TickInput) Command {
	t := c.tuning
	driftSec := in.DesiredSec - in.ActualSec
	driftMs := driftSec * 1000

	var target float64
	switch {
	case in.Paused || in.Buffering || !in.Calibrated:
		// Correcting against a stalled player or an uncalibrated
		// clock is meaningless; just relax toward base.
		target = c.base

	case math.Abs(driftMs) > t.HardSeekLimitMs:
		// Rate nudging converges too slowly from here; a seek is
		// less perceptible than seconds of tempo distortion.
		c.integral = 0
		c.applied = clamp(c.base, t.MinRate, t.MaxRate)
		return Command{Kind: CmdSeek, SeekToSec: in.DesiredSec, Rate: c.applied}

	case math.Abs(driftMs) <= t.DeadBandMs:
		c.integral *= 0.9
		target = c.base

	default:
		dt := t.TickInterval.Seconds()
		c.integral = c.integral*0.98 + driftSec*dt
		offset := clamp(t.Kp*driftSec+t.Ki*c.integral, -t.MaxNudge, t.MaxNudge)
		target = c.base * (1 + offset)
	}

	// Never step straight to the target: slew-limit, then smooth, so
	// tempo changes stay below the audible threshold.
	slewed := c.applied + clamp(target-c.applied, -t.MaxSlew, t.MaxSlew)
	next := c.applied + t.Smoothing*(slewed-c.applied)
	next = clamp(next, t.MinRate, t.MaxRate)

	if next == c.applied {
		return Command{Kind: CmdNone, Rate: c.applied}
	}
	c.applied = next
	return Command{Kind: CmdRate, Rate: next}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
