package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/harmonycast/harmonycast/internal/application/config"
	"github.com/harmonycast/harmonycast/internal/application/constant"
	"github.com/harmonycast/harmonycast/internal/domain"
)

// Hub is the room registry. Rooms come into being on first join and are
// torn down when the last participant leaves.
type Hub struct {
	cfg   config.ServerConfig
	clock clockwork.Clock
	log   *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewHub(cfg config.ServerConfig, clock clockwork.Clock, log *slog.Logger) *Hub {
	return &Hub{
		cfg:   cfg,
		clock: clock,
		log:   log,
		rooms: make(map[string]*Room),
	}
}

func (h *Hub) GetOrCreate(name string) *Room {
	if name == "" {
		name = "default"
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[name]; ok {
		return r
	}
	r := NewRoom(name, h.cfg, h.clock, h.log)
	h.rooms[name] = r
	return r
}

// Drop removes a participant from its room and reaps the room when empty.
func (h *Hub) Drop(room *Room, clientID string) {
	if !room.Remove(clientID) {
		return
	}

	h.mu.Lock()
	if cur, ok := h.rooms[room.Name()]; ok && cur == room && cur.Size() == 0 {
		delete(h.rooms, room.Name())
		h.log.Info("room removed", slog.String(constant.Room, room.Name()))
	}
	h.mu.Unlock()
}

// Stats counts rooms and participants.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms = len(h.rooms)
	for _, r := range h.rooms {
		clients += r.Size()
	}
	return rooms, clients
}

// RoomView is the /api/rooms projection.
type RoomView struct {
	Name        string  `json:"name"`
	Clients     int     `json:"clients"`
	TrackURL    string  `json:"track_url"`
	Paused      bool    `json:"paused"`
	PositionSec float64 `json:"position_sec"`
}

func (h *Hub) Views() []RoomView {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]RoomView, 0, len(h.rooms))
	for _, r := range h.rooms {
		state := r.State()
		out = append(out, RoomView{
			Name:        r.Name(),
			Clients:     r.Size(),
			TrackURL:    state.TrackURL,
			Paused:      state.Paused,
			PositionSec: r.Position(),
		})
	}
	return out
}

// Run drives the heartbeat: every interval each room gets a timing probe,
// a periodic state snapshot, and its stale participants reaped.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.beat()
		}
	}
}

func (h *Hub) beat() {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	staleAfter := h.cfg.StaleTimeout.Milliseconds()
	for _, r := range rooms {
		for _, id := range r.Heartbeat(staleAfter) {
			h.log.Info("dropping stale client",
				slog.String(constant.Room, r.Name()),
				slog.String(constant.ClientID, id),
			)
			h.Drop(r, id)
		}
		if r.Size() > 0 {
			r.BroadcastState(domain.ReasonPeriodic)
		}
	}
}
