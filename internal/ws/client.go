package ws

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/trellis/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBufferSize = 512

	// sustained rate-limit violations before disconnect
	maxRateLimitWarnings = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connection lifecycle. A client is only eligible for sends while Open;
// Closing means the transport signalled close/error and cleanup is in
// flight; Closed means the hub finished detaching it. There is no
// transition out of Closed.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

type Client struct {
	id     string
	roomID string // immutable after admission

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *ratelimit.Limiter
	state   atomic.Int32
	log     *zap.Logger
}

func (c *Client) ID() string     { return c.id }
func (c *Client) RoomID() string { return c.roomID }

func (c *Client) State() State {
	return State(c.state.Load())
}

// beginClose moves Open -> Closing. Safe to call more than once.
func (c *Client) beginClose() {
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
}

// finishClose is called by the hub once the client has been removed
// from its room.
func (c *Client) finishClose() {
	c.beginClose()
	c.state.Store(int32(StateClosed))
}

// trySend queues msg for delivery without blocking. Only the hub's run
// loop calls this, so a send can never race the channel close in
// unregister. Returns false when the client is not Open or its buffer
// is full.
func (c *Client) trySend(msg []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// RoomIDFromPath derives the room id from a request path below the
// websocket mount point: everything after "/ws" with the leading
// separator stripped. Empty means the client did not name a room.
func RoomIDFromPath(path string) string {
	p := strings.TrimPrefix(path, "/ws")
	return strings.TrimPrefix(p, "/")
}

// ServeWs admits one websocket connection into the room named by the
// request path. A connection without a room id is closed immediately
// and never registered.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomID := RoomIDFromPath(r.URL.Path)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if roomID == "" {
		hub.log.Warn("client connected without a room id, closing",
			zap.String("remote", conn.RemoteAddr().String()))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room id required"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := &Client{
		id:      fmt.Sprintf("%s-%s", conn.RemoteAddr().String(), uuid.NewString()),
		roomID:  roomID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		limiter: ratelimit.NewLimiter(hub.messagesPerSecond, hub.messageBurst),
		log:     hub.log.With(zap.String("room", roomID), zap.String("client", conn.RemoteAddr().String())),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.beginClose()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		if !c.limiter.Allow() {
			rateLimitWarnings++
			c.hub.metrics.RateLimitDrops.Inc()
			if rateLimitWarnings%100 == 1 {
				c.log.Warn("rate limit exceeded, dropping fragment",
					zap.Int("warnings", rateLimitWarnings))
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				c.log.Warn("disconnecting client for sustained rate limit violations")
				return
			}
			continue
		}

		c.hub.broadcast <- &Message{Sender: c, Data: message}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.BinaryMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
