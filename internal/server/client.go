package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harmonycast/harmonycast/internal/application/constant"
	"github.com/harmonycast/harmonycast/internal/domain"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	sendQueueSize = 256
)

var errSlowClient = errors.New("send queue full")

// wsClient pumps one websocket connection: a write goroutine draining the
// send queue and a read loop dispatching frames to the room.
type wsClient struct {
	id   string
	room *Room
	hub  *Hub
	ws   *websocket.Conn
	log  *slog.Logger

	send chan domain.Message
	done chan struct{}
}

func newWSClient(id string, room *Room, hub *Hub, ws *websocket.Conn, log *slog.Logger) *wsClient {
	return &wsClient{
		id:   id,
		room: room,
		hub:  hub,
		ws:   ws,
		log:  log.With(slog.String(constant.ClientID, id)),
		send: make(chan domain.Message, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Send queues a frame without blocking. A participant that cannot drain
// its queue loses frames and is eventually reaped by the stale-drop.
func (c *wsClient) Send(msg domain.Message) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		return errSlowClient
	}
}

func (c *wsClient) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.ws.Close()
}

// run blocks until the connection dies.
func (c *wsClient) run(maxMessageBytes int64) {
	go c.writePump()
	c.readPump(maxMessageBytes)
}

func (c *wsClient) writePump() {
	defer c.ws.Close()
	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump(maxMessageBytes int64) {
	defer func() {
		c.hub.Drop(c.room, c.id)
	}()

	// Read limit sits above the protocol maximum so oversized frames
	// get an error reply instead of a hard close.
	c.ws.SetReadLimit(maxMessageBytes * 4)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error", slog.Any(constant.Error, err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if int64(len(data)) > maxMessageBytes {
			c.Send(domain.ErrorMessage("too_large", "message too large"))
			continue
		}

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(domain.ErrorMessage("bad_json", "unable to parse json"))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *wsClient) dispatch(msg domain.Message) {
	switch msg.Type {
	case domain.TypeHello:
		if len(msg.Name) > 40 {
			c.Send(domain.ErrorMessage("bad_hello", "name too long"))
			return
		}
		c.room.HandleHello(c.id, msg.WantHost, msg.Name)

	case domain.TypePong:
		c.room.HandlePong(c.id)

	case domain.TypePing:
		// Client-initiated timing probe: echo so the client can
		// measure its round trip.
		c.Send(domain.Message{Type: domain.TypePong, T0: msg.T0})

	case domain.TypeControl:
		c.room.HandleControl(c.id, msg)

	default:
		c.Send(domain.ErrorMessage("unknown_type", "unknown type "+msg.Type))
	}
}
