// Package server implements the authoritative side: rooms owning playback
// state, host arbitration, heartbeat probing and snapshot broadcast.
package server

import (
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/harmonycast/harmonycast/internal/application/config"
	"github.com/harmonycast/harmonycast/internal/application/constant"
	"github.com/harmonycast/harmonycast/internal/application/metric"
	"github.com/harmonycast/harmonycast/internal/domain"
)

var (
	trackURLRe       = regexp.MustCompile(`^(?i)(https?://|/media/|/static/|/)[^\s]+$`)
	allowedMediaExts = []string{".mp3", ".ogg", ".wav"}
)

// sender delivers frames to one participant connection.
type sender interface {
	Send(msg domain.Message) error
	Close() error
}

// member is the server-side view of one participant.
type member struct {
	id         string
	name       string
	ip         string
	isHost     bool
	lastPongMs int64
	limiter    *rate.Limiter
	conn       sender
}

func (m *member) info() domain.ClientInfo {
	return domain.ClientInfo{
		ID:     m.id,
		Short:  m.id[:min(6, len(m.id))],
		IsHost: m.isHost,
		IP:     m.ip,
		Name:   m.name,
	}
}

// Room owns the authoritative RoomState for one set of participants. All
// mutation happens here; clients only ever see whole snapshots.
type Room struct {
	name  string
	cfg   config.ServerConfig
	clock clockwork.Clock
	log   *slog.Logger

	mu      sync.Mutex
	state   domain.RoomState
	members map[string]*member
	// order preserves join order; host reassignment picks the oldest
	// remaining member.
	order  []string
	hostID string
}

func NewRoom(name string, cfg config.ServerConfig, clock clockwork.Clock, log *slog.Logger) *Room {
	return &Room{
		name:    name,
		cfg:     cfg,
		clock:   clock,
		log:     log.With(slog.String(constant.Room, name)),
		state:   domain.NewRoomState(),
		members: make(map[string]*member),
	}
}

func (r *Room) Name() string { return r.name }

func (r *Room) nowMs() int64 {
	return r.clock.Now().UnixMilli()
}

// Add registers a participant. The first joiner becomes host; forceHost
// seizes the seat from whoever holds it.
func (r *Room) Add(id, name, ip string, conn sender, forceHost bool) {
	r.mu.Lock()
	m := &member{
		id:         id,
		name:       name,
		ip:         ip,
		lastPongMs: r.nowMs(),
		limiter:    rate.NewLimiter(rate.Limit(r.cfg.ControlRate), r.cfg.ControlBurst),
		conn:       conn,
	}
	if m.name == "" {
		m.name = "Guest-" + m.id[:min(6, len(m.id))]
	}
	r.members[id] = m
	r.order = append(r.order, id)

	transferred := false
	if r.hostID == "" {
		r.hostID = id
		m.isHost = true
	} else if forceHost {
		if cur, ok := r.members[r.hostID]; ok {
			cur.isHost = false
		}
		r.hostID = id
		m.isHost = true
		transferred = true
	}
	count := len(r.members)
	r.mu.Unlock()

	r.log.Info("client connected", slog.String(constant.ClientID, id), "clients", count, "host", m.isHost)
	if transferred {
		r.BroadcastState(domain.ReasonHostTransfer)
	}
}

// Remove drops a participant, reassigning the host seat to the oldest
// remaining member when the host leaves. Returns true when the room is
// now empty.
func (r *Room) Remove(id string) bool {
	r.mu.Lock()
	m, ok := r.members[id]
	if !ok {
		r.mu.Unlock()
		return len(r.members) == 0
	}
	delete(r.members, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	var promoted *member
	if id == r.hostID {
		r.hostID = ""
		for _, oid := range r.order {
			if next, ok := r.members[oid]; ok {
				next.isHost = true
				r.hostID = oid
				promoted = next
				break
			}
		}
	}
	count := len(r.members)
	r.mu.Unlock()

	_ = m.conn.Close()
	r.log.Info("client disconnected", slog.String(constant.ClientID, id), "clients", count)

	if promoted != nil {
		r.sendInit(promoted)
		r.BroadcastState(domain.ReasonHostTransfer)
	}
	r.BroadcastClients()
	return count == 0
}

// HandleHello processes a role request. A vacant host seat can be claimed
// with wantHost; the claimant learns its role from a fresh init.
func (r *Room) HandleHello(id string, wantHost bool, name string) {
	r.mu.Lock()
	m, ok := r.members[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	claimed := false
	if wantHost && r.hostID == "" {
		r.hostID = id
		m.isHost = true
		claimed = true
	}
	renamed := false
	if name != "" && name != m.name {
		m.name = name
		renamed = true
	}
	r.mu.Unlock()

	if claimed {
		r.sendInit(m)
	}
	if claimed || renamed {
		r.BroadcastClients()
	}
}

// HandlePong refreshes the liveness mark for the stale-drop reaper.
func (r *Room) HandlePong(id string) {
	r.mu.Lock()
	if m, ok := r.members[id]; ok {
		m.lastPongMs = r.nowMs()
	}
	r.mu.Unlock()
}

// HandleControl validates and applies a host control intent, then
// broadcasts the updated state tagged with the action as reason.
// Rejections go back to the sender only.
func (r *Room) HandleControl(id string, msg domain.Message) {
	r.mu.Lock()
	m, ok := r.members[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	if !m.isHost {
		r.mu.Unlock()
		r.reject(m, "not_host", "only host may control playback")
		return
	}
	if !m.limiter.Allow() {
		r.mu.Unlock()
		r.reject(m, "rate_limited", "too many requests")
		return
	}

	if code, detail := r.applyControlLocked(msg); code != "" {
		r.mu.Unlock()
		r.reject(m, code, detail)
		return
	}
	r.mu.Unlock()

	r.BroadcastState(domain.Reason(msg.Action))
}

// applyControlLocked mutates the authoritative state. Returns an error
// code when the intent is invalid; the state is untouched in that case.
func (r *Room) applyControlLocked(msg domain.Message) (code, detail string) {
	now := r.nowMs()
	switch msg.Action {
	case domain.ActionPlay:
		// Anchor the timeline so that "now" maps to the frozen
		// position.
		r.state.Paused = false
		r.state.StartEpochMs = now - int64(r.state.PositionSec*1000)

	case domain.ActionPause:
		r.state.PositionSec = r.positionLocked()
		r.state.Paused = true

	case domain.ActionSeek:
		if msg.PositionSec == nil || *msg.PositionSec < 0 {
			return "bad_seek", "position_sec required and >= 0"
		}
		r.state.PositionSec = *msg.PositionSec
		if !r.state.Paused {
			r.state.StartEpochMs = now - int64(r.state.PositionSec*1000)
		}

	case domain.ActionSetTrack:
		if err := validateTrackURL(msg.TrackURL); err != "" {
			return "bad_track", err
		}
		r.state.TrackURL = msg.TrackURL
		r.state.PositionSec = 0
		r.state.Paused = true
		r.state.StartEpochMs = now
		if msg.PlaybackRate != nil {
			r.state.PlaybackRate = math.Min(2.0, math.Max(0.5, *msg.PlaybackRate))
		}

	case domain.ActionSetVolume:
		if msg.Volume == nil || *msg.Volume < 0 || *msg.Volume > 1 {
			return "bad_volume", "volume must be 0.0-1.0"
		}
		r.state.Volume = *msg.Volume

	default:
		return "bad_control", "invalid action"
	}
	return "", ""
}

func validateTrackURL(url string) string {
	if url == "" {
		return "track_url required"
	}
	if len(url) > 2048 || !trackURLRe.MatchString(url) {
		return "invalid URL"
	}
	lowered := strings.ToLower(url)
	for _, ext := range allowedMediaExts {
		if strings.HasSuffix(lowered, ext) {
			return ""
		}
	}
	return "only .mp3/.ogg/.wav allowed"
}

// positionLocked computes the current authoritative position.
func (r *Room) positionLocked() float64 {
	if r.state.Paused {
		return math.Max(0, r.state.PositionSec)
	}
	return math.Max(0, float64(r.nowMs()-r.state.StartEpochMs)/1000.0)
}

// Position is the exported view used by /api/rooms.
func (r *Room) Position() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positionLocked()
}

// State returns a copy of the authoritative state.
func (r *Room) State() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) reject(m *member, code, detail string) {
	metric.RecordControlRejected(code)
	if err := m.conn.Send(domain.ErrorMessage(code, detail)); err != nil {
		r.log.Warn("error frame dropped", slog.String(constant.ClientID, m.id), slog.Any(constant.Error, err))
	}
}

func (r *Room) sendInit(m *member) {
	r.mu.Lock()
	isHost := m.isHost
	state := r.state
	r.mu.Unlock()

	msg := domain.Message{
		Type:     domain.TypeInit,
		ClientID: m.id,
		IsHost:   &isHost,
		State:    &state,
	}

	if err := m.conn.Send(msg); err != nil {
		r.log.Warn("init dropped", slog.String(constant.ClientID, m.id), slog.Any(constant.Error, err))
	}
}

// SendInit sends the late-join catch-up snapshot to one participant.
func (r *Room) SendInit(id string) {
	r.mu.Lock()
	m, ok := r.members[id]
	r.mu.Unlock()
	if ok {
		r.sendInit(m)
	}
}

// BroadcastState pushes the current snapshot to every participant.
func (r *Room) BroadcastState(reason domain.Reason) {
	r.mu.Lock()
	state := r.state
	targets := r.membersLocked()
	r.mu.Unlock()

	metric.RecordStateBroadcast(string(reason))
	msg := domain.Message{Type: domain.TypeState, Reason: reason, State: &state}
	for _, m := range targets {
		if err := m.conn.Send(msg); err != nil {
			r.log.Warn("state frame dropped", slog.String(constant.ClientID, m.id), slog.Any(constant.Error, err))
		}
	}
}

// BroadcastClients pushes the roster to every participant.
func (r *Room) BroadcastClients() {
	r.mu.Lock()
	infos := make([]domain.ClientInfo, 0, len(r.order))
	for _, id := range r.order {
		if m, ok := r.members[id]; ok {
			infos = append(infos, m.info())
		}
	}
	targets := r.membersLocked()
	r.mu.Unlock()

	msg := domain.Message{Type: domain.TypeClients, Clients: infos}
	for _, m := range targets {
		if err := m.conn.Send(msg); err != nil {
			r.log.Warn("roster frame dropped", slog.String(constant.ClientID, m.id), slog.Any(constant.Error, err))
		}
	}
}

// Heartbeat pushes a timing probe to everyone and returns the ids of
// participants that went stale. Callers remove them outside the probe.
func (r *Room) Heartbeat(staleAfterMs int64) []string {
	t0 := r.nowMs()

	r.mu.Lock()
	targets := r.membersLocked()
	var stale []string
	for _, m := range targets {
		if t0-m.lastPongMs > staleAfterMs {
			stale = append(stale, m.id)
		}
	}
	r.mu.Unlock()

	msg := domain.Message{Type: domain.TypePing, T0: t0}
	for _, m := range targets {
		if err := m.conn.Send(msg); err != nil {
			r.log.Debug("probe dropped", slog.String(constant.ClientID, m.id))
		}
	}
	return stale
}

// Size reports the participant count.
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) membersLocked() []*member {
	out := make([]*member, 0, len(r.members))
	for _, id := range r.order {
		if m, ok := r.members[id]; ok {
			out = append(out, m)
		}
	}
	return out
}
