// Package client implements the participant side: a reconnecting
// websocket connection and the session loop that runs the sync engine
// against a local player.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/harmonycast/harmonycast/internal/application/constant"
	"github.com/harmonycast/harmonycast/internal/application/metric"
	"github.com/harmonycast/harmonycast/internal/domain"
)

const (
	maxMessageSize = 4096
	readWait       = 60 * time.Second
)

// ConnState is the connection lifecycle state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventKind classifies what the connection delivers to the session.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

// Event is one item on the session inbox.
type Event struct {
	Kind EventKind
	Msg  domain.Message
}

type ConnConfig struct {
	URL          string
	BackoffFloor time.Duration
	BackoffCap   time.Duration
	WriteTimeout time.Duration
}

// Conn owns the transport lifecycle: dial, reconnect with exponential
// backoff, and routing of inbound frames onto the session inbox. It holds
// no business logic beyond lifecycle and backoff.
type Conn struct {
	cfg    ConnConfig
	clock  clockwork.Clock
	log    *slog.Logger
	events chan Event

	mu    sync.Mutex
	ws    *websocket.Conn
	state ConnState
}

func NewConn(cfg ConnConfig, clock clockwork.Clock, log *slog.Logger) *Conn {
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = 500 * time.Millisecond
	}
	if cfg.BackoffCap < cfg.BackoffFloor {
		cfg.BackoffCap = cfg.BackoffFloor
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Conn{
		cfg:    cfg,
		clock:  clock,
		log:    log,
		events: make(chan Event, 64),
	}
}

// Events is the inbox consumed by the session goroutine.
func (c *Conn) Events() <-chan Event {
	return c.events
}

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run dials and keeps the connection alive until ctx is cancelled.
// Consecutive failures back off as floor·2^attempt capped at the
// configured ceiling; a successful dial resets the attempt counter.
func (c *Conn) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		c.setState(Connecting, nil)
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			c.setState(Disconnected, nil)
			if ctx.Err() != nil {
				return
			}
			if !c.waitBackoff(ctx, &attempt) {
				return
			}
			continue
		}

		attempt = 0
		c.setState(Connected, ws)
		c.emit(Event{Kind: EventConnected})

		c.readLoop(ctx, ws)

		c.setState(Disconnected, nil)
		c.emit(Event{Kind: EventDisconnected})
		if ctx.Err() != nil {
			return
		}
		if !c.waitBackoff(ctx, &attempt) {
			return
		}
	}
}

func (c *Conn) waitBackoff(ctx context.Context, attempt *int) bool {
	delay := Backoff(c.cfg.BackoffFloor, c.cfg.BackoffCap, *attempt)
	*attempt++
	metric.RecordClientReconnect()
	c.log.Info("reconnecting", "attempt", *attempt, "delay", delay)
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(delay):
		return true
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	// Unblock ReadMessage when the session is torn down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	defer ws.Close()
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("connection closed", slog.Any(constant.Error, err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readWait))

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("invalid message dropped", slog.Any(constant.Error, err))
			continue
		}
		c.emit(Event{Kind: EventMessage, Msg: msg})
	}
}

// Send is fire-and-forget: failures are logged, never retried here.
// Consistency is re-established by the next snapshot or probe. Only the
// session goroutine sends, so gorilla's single-writer rule holds.
func (c *Conn) Send(msg domain.Message) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		c.log.Debug("send skipped, not connected", "type", msg.Type)
		return
	}

	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := ws.WriteJSON(msg); err != nil {
		c.log.Warn("write failed", "type", msg.Type, slog.Any(constant.Error, err))
	}
}

func (c *Conn) setState(state ConnState, ws *websocket.Conn) {
	c.mu.Lock()
	c.state = state
	c.ws = ws
	c.mu.Unlock()
}

func (c *Conn) emit(ev Event) {
	c.events <- ev
}

// Backoff computes the reconnect delay for the given attempt number:
// min(limit, floor·2^attempt).
func Backoff(floor, limit time.Duration, attempt int) time.Duration {
	d := floor
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}
