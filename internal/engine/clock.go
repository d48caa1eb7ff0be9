// Package engine implements the synchronization core every participant
// runs: clock-offset estimation against the server, the drift-correction
// control loop, and reconciliation of server-pushed state snapshots.
//
// The whole package is owned by a single session goroutine; nothing here
// locks. Probes, snapshots and ticks arrive through that goroutine only.
package engine

import (
	"github.com/jonboulle/clockwork"
)

// Estimate is the current belief about the local-vs-server clock.
type Estimate struct {
	OffsetMs   int64
	LastRttMs  int64
	Calibrated bool
}

// Estimator converts timing probes into a running clock-offset estimate.
//
// Two probe paths feed it. The server pushes ping{t0} frames carrying its
// send timestamp; the client cannot time that exchange itself, so the
// half-round-trip correction comes from client-initiated probes whose echo
// the client does time. Assumes symmetric one-way delay.
type Estimator struct {
	clock clockwork.Clock
	est   Estimate
}

func NewEstimator(clock clockwork.Clock) *Estimator {
	return &Estimator{clock: clock}
}

// Reset clears the estimate. Called on reconnect; nothing else invalidates
// a calibration.
func (e *Estimator) Reset() {
	e.est = Estimate{}
}

// ObserveServerTime ingests a server push-probe send timestamp. t0 values
// that are missing upstream never reach here; a non-positive one is
// dropped silently, probing never errors.
func (e *Estimator) ObserveServerTime(t0 int64) {
	if t0 <= 0 {
		return
	}
	now := e.nowMs()
	e.est.OffsetMs = t0 + e.est.LastRttMs/2 - now
	e.est.Calibrated = true
}

// ObserveEcho completes a client-initiated probe: sentAtMs is the local
// send timestamp that just came back.
func (e *Estimator) ObserveEcho(sentAtMs int64) {
	if sentAtMs <= 0 {
		return
	}
	rtt := e.nowMs() - sentAtMs
	if rtt < 0 {
		return
	}
	e.est.LastRttMs = rtt
}

// ServerNowMs is the estimated current server clock in epoch milliseconds.
func (e *Estimator) ServerNowMs() int64 {
	return e.nowMs() + e.est.OffsetMs
}

func (e *Estimator) Calibrated() bool {
	return e.est.Calibrated
}

func (e *Estimator) Estimate() Estimate {
	return e.est
}

func (e *Estimator) nowMs() int64 {
	return e.clock.Now().UnixMilli()
}
