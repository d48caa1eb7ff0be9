package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/harmonycast/harmonycast/internal/application/constant"
	"github.com/harmonycast/harmonycast/internal/domain"
	"github.com/harmonycast/harmonycast/internal/engine"
)

// transport is what the session needs from the connection layer.
type transport interface {
	Events() <-chan Event
	Send(domain.Message)
}

type SessionConfig struct {
	Name          string
	WantHost      bool
	ProbeInterval time.Duration
	Tuning        engine.Tuning
}

// Status is a read-only view for presentation. Reading it never touches
// authoritative state.
type Status struct {
	Identity    domain.Identity
	Connected   bool
	HaveState   bool
	State       domain.RoomState
	DesiredSec  float64
	ActualSec   float64
	AppliedRate float64
	Clock       engine.Estimate
}

// Session is the per-participant event loop. All engine state is touched
// from Run's goroutine only: inbound transport events, the drift tick,
// the probe tick and UI intents are serialized through one select.
type Session struct {
	cfg    SessionConfig
	conn   transport
	player domain.Player
	clock  clockwork.Clock
	log    *slog.Logger

	est  *engine.Estimator
	rec  *engine.Reconciler
	ctrl *engine.Controller

	intents chan domain.Message

	mu        sync.Mutex
	identity  domain.Identity
	roster    []domain.ClientInfo
	connected bool
	status    Status
}

func NewSession(cfg SessionConfig, conn transport, p domain.Player, clock clockwork.Clock, log *slog.Logger) *Session {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 2 * time.Second
	}
	if cfg.Tuning.TickInterval <= 0 {
		cfg.Tuning = engine.DefaultTuning()
	}
	est := engine.NewEstimator(clock)
	return &Session{
		cfg:     cfg,
		conn:    conn,
		player:  p,
		clock:   clock,
		log:     log,
		est:     est,
		rec:     engine.NewReconciler(est, cfg.Tuning.DeadBandMs),
		ctrl:    engine.NewController(cfg.Tuning),
		intents: make(chan domain.Message, 16),
	}
}

// Run drives the session until ctx is cancelled. Timers are scoped here
// and die with the session.
func (s *Session) Run(ctx context.Context) {
	drift := s.clock.NewTicker(s.cfg.Tuning.TickInterval)
	defer drift.Stop()
	probe := s.clock.NewTicker(s.cfg.ProbeInterval)
	defer probe.Stop()

	var playerEvents <-chan domain.PlayerEvent
	if src, ok := s.player.(domain.PlayerEventSource); ok {
		playerEvents = src.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.conn.Events():
			s.handleConn(ev)
		case <-drift.Chan():
			s.tick()
		case <-probe.Chan():
			s.probe()
		case m := <-s.intents:
			s.conn.Send(m)
		case pe := <-playerEvents:
			s.handlePlayerEvent(pe)
		}
	}
}

func (s *Session) handleConn(ev Event) {
	switch ev.Kind {
	case EventConnected:
		// Full resync: the estimate and the mirrored state belong to
		// the old connection.
		s.est.Reset()
		s.rec.Reset()
		s.setConnected(true)
		s.sendHello()
	case EventDisconnected:
		s.setConnected(false)
	case EventMessage:
		s.handleMessage(ev.Msg)
	}
	s.updateStatus()
}

func (s *Session) handleMessage(msg domain.Message) {
	switch msg.Type {
	case domain.TypeInit:
		if msg.State == nil {
			s.log.Warn("init without state dropped")
			return
		}
		s.setIdentity(msg)
		s.applySnapshot(*msg.State, domain.ReasonInit)

	case domain.TypeState:
		if msg.State == nil {
			s.log.Warn("state without payload dropped", slog.Any(constant.Reason, msg.Reason))
			return
		}
		reason := msg.Reason
		if reason == "" {
			reason = domain.ReasonPeriodic
		}
		s.applySnapshot(*msg.State, reason)

	case domain.TypePing:
		// Echo first so the server can time its own half of the
		// round trip, then fold t0 into the estimate.
		s.conn.Send(domain.Message{Type: domain.TypePong, T0: msg.T0})
		s.est.ObserveServerTime(msg.T0)

	case domain.TypePong:
		s.est.ObserveEcho(msg.T0)

	case domain.TypeClients:
		s.setRoster(msg.Clients)

	case domain.TypeError:
		s.log.Warn("server rejected request", "code", msg.Code, "detail", msg.Message)

	default:
		s.log.Debug("unknown message type dropped", "type", msg.Type)
	}
}

func (s *Session) applySnapshot(state domain.RoomState, reason domain.Reason) {
	res := s.rec.Apply(state, reason, s.player.Position())
	s.ctrl.OnSnapshot()
	s.ctrl.SetBaseRate(state.PlaybackRate)

	if res.TrackChanged && state.TrackURL != "" {
		s.player.Load(state.TrackURL)
	}
	if res.VolumeChanged {
		s.player.SetVolume(state.Volume)
	}
	if state.Paused {
		s.player.Pause()
	} else {
		s.player.Play()
	}
	if res.AlignSeek {
		s.player.SeekTo(res.SeekToSec)
	}
	if res.RoleRefresh {
		// Role is learned from the server, never assumed locally.
		s.sendHello()
	}

	s.log.Debug("snapshot applied",
		slog.Any(constant.Reason, reason),
		"paused", state.Paused,
		"aligned", res.AlignSeek,
	)
}

// tick runs one drift-controller step and applies its command.
func (s *Session) tick() {
	state, ok := s.rec.State()
	if !ok {
		return
	}

	cmd := s.ctrl.Tick(engine.TickInput{
		DesiredSec: s.rec.Desired(),
		ActualSec:  s.player.Position(),
		Paused:     state.Paused,
		Buffering:  s.player.Buffering(),
		Calibrated: s.est.Calibrated(),
	})

	switch cmd.Kind {
	case engine.CmdSeek:
		s.player.SeekTo(cmd.SeekToSec)
		s.player.SetRate(cmd.Rate)
		s.log.Debug("hard seek", "to", cmd.SeekToSec)
	case engine.CmdRate:
		s.player.SetRate(cmd.Rate)
	}
	s.updateStatus()
}

func (s *Session) probe() {
	if !s.isConnected() {
		return
	}
	s.conn.Send(domain.Message{Type: domain.TypePing, T0: s.clock.Now().UnixMilli()})
}

func (s *Session) handlePlayerEvent(ev domain.PlayerEvent) {
	switch ev.Kind {
	case domain.EventBufferingStarted:
		s.log.Info("buffering started")
	case domain.EventBufferingEnded:
		s.log.Info("buffering ended")
	case domain.EventMetadataReady:
		s.log.Info("media ready", "duration_sec", ev.DurationSec)
	case domain.EventPlaybackBlocked:
		// The engine keeps tracking the desired position; playback
		// resumes aligned once the user permits it.
		s.log.Warn("playback blocked, waiting for a manual gesture")
	}
}

func (s *Session) sendHello() {
	s.conn.Send(domain.Message{
		Type:     domain.TypeHello,
		WantHost: s.cfg.WantHost,
		Name:     s.cfg.Name,
	})
}

// Control intents. Requests only: nothing is applied optimistically, the
// outcome is observed through the next snapshot.

func (s *Session) Play() {
	s.intent(domain.Message{Type: domain.TypeControl, Action: domain.ActionPlay})
}

func (s *Session) Pause() {
	s.intent(domain.Message{Type: domain.TypeControl, Action: domain.ActionPause})
}

func (s *Session) Seek(sec float64) {
	s.intent(domain.Message{Type: domain.TypeControl, Action: domain.ActionSeek, PositionSec: &sec})
}

func (s *Session) SetTrack(url string) {
	s.intent(domain.Message{Type: domain.TypeControl, Action: domain.ActionSetTrack, TrackURL: url})
}

func (s *Session) SetVolume(v float64) {
	s.intent(domain.Message{Type: domain.TypeControl, Action: domain.ActionSetVolume, Volume: &v})
}

func (s *Session) intent(m domain.Message) {
	select {
	case s.intents <- m:
	default:
		s.log.Warn("intent dropped, queue full", "action", m.Action)
	}
}

// Presentation accessors.

func (s *Session) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) Roster() []domain.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ClientInfo(nil), s.roster...)
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setIdentity(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ClientID != "" {
		s.identity.ClientID = msg.ClientID
	}
	if msg.IsHost != nil {
		s.identity.IsHost = *msg.IsHost
	}
}

func (s *Session) setRoster(clients []domain.ClientInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = clients
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) updateStatus() {
	state, ok := s.rec.State()
	st := Status{
		Connected:   s.isConnected(),
		HaveState:   ok,
		State:       state,
		ActualSec:   s.player.Position(),
		AppliedRate: s.ctrl.AppliedRate(),
		Clock:       s.est.Estimate(),
	}
	if ok {
		st.DesiredSec = s.rec.Desired()
	}
	s.mu.Lock()
	st.Identity = s.identity
	s.status = st
	s.mu.Unlock()
}
