package engine

import (
	"math"

	"github.com/harmonycast/harmonycast/internal/domain"
)

// Reconciler holds the believed-authoritative room state and applies the
// server's reason-tagged snapshots. State is replaced wholesale, never
// merged; the most recently applied snapshot wins.
type Reconciler struct {
	est        *Estimator
	deadBandMs float64

	state     domain.RoomState
	haveState bool
}

// ApplyResult tells the session which side effects one snapshot requires.
type ApplyResult struct {
	// AlignSeek asks for a one-shot seek to SeekToSec. Issued only for
	// transition reasons (and the first snapshot of a session) when the
	// player sits outside the dead band; per-tick correction handles
	// everything closer.
	AlignSeek bool
	SeekToSec float64

	// RoleRefresh means the host seat moved: reissue the hello handshake
	// so the role is learned from the server, never assumed.
	RoleRefresh bool

	TrackChanged  bool
	VolumeChanged bool
}

func NewReconciler(est *Estimator, deadBandMs float64) *Reconciler {
	return &Reconciler{est: est, deadBandMs: deadBandMs}
}

// Reset forgets the mirrored state. The next snapshot counts as the first
// of the session again.
func (r *Reconciler) Reset() {
	r.state = domain.RoomState{}
	r.haveState = false
}

// Apply replaces the mirrored state and decides the one-shot alignment.
// actualSec is the player position at receipt time.
func (r *Reconciler) Apply(state domain.RoomState, reason domain.Reason, actualSec float64) ApplyResult {
	prev, had := r.state, r.haveState
	r.state = state
	r.haveState = true

	res := ApplyResult{
		RoleRefresh:   reason == domain.ReasonHostTransfer,
		TrackChanged:  !had || prev.TrackURL != state.TrackURL,
		VolumeChanged: !had || prev.Volume != state.Volume,
	}

	if !had || oneShotReason(reason) {
		desired := r.Desired()
		if math.Abs(desired-actualSec)*1000 > r.deadBandMs {
			res.AlignSeek = true
			res.SeekToSec = desired
		}
	}
	return res
}

func oneShotReason(reason domain.Reason) bool {
	switch reason {
	case domain.ReasonInit, domain.ReasonPlay, domain.ReasonSeek, domain.ReasonSetTrack:
		return true
	}
	return false
}

// Desired derives the authoritative playback position right now. This is
// the single source of truth shared by the one-shot aligner and the
// per-tick controller.
func (r *Reconciler) Desired() float64 {
	if r.state.Paused {
		return math.Max(0, r.state.PositionSec)
	}
	elapsed := float64(r.est.ServerNowMs()-r.state.StartEpochMs) / 1000.0
	return math.Max(0, elapsed)
}

// State returns the mirrored room state and whether one has been applied.
func (r *Reconciler) State() (domain.RoomState, bool) {
	return r.state, r.haveState
}
