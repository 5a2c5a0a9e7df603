package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"feastline/pkg/logger"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 60 * time.Second
	sendBuffer   = 32
)

// clientMessage is a room control frame sent by the client.
type clientMessage struct {
	Event string `json:"event"` // "join-restaurant" | "join-customer" | "join-driver"
	ID    string `json:"id"`
}

// conn is one websocket client. Frames to the client go through a buffered
// send channel drained by the write pump, so Broadcast never blocks on a slow
// socket.
type conn struct {
	ws      *websocket.Conn
	send    chan []byte
	allowed map[string]struct{} // rooms this actor may join
	reg     *Registry
	log     *logger.Logger
}

func newConn(ws *websocket.Conn, allowed map[string]struct{}, reg *Registry, log *logger.Logger) *conn {
	return &conn{
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		allowed: allowed,
		reg:     reg,
		log:     log,
	}
}

// Send queues a frame for delivery. Returns false when the client is too slow
// to keep up and the frame is dropped.
func (c *conn) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump handles join frames until the client disconnects.
func (c *conn) readPump() {
	defer func() {
		c.reg.Leave(c)
		close(c.send)
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Action("bad_client_frame").Warn("ignoring malformed frame")
			continue
		}
		c.handleJoin(msg)
	}
}

func (c *conn) handleJoin(msg clientMessage) {
	var room string
	switch msg.Event {
	case "join-restaurant":
		room = RestaurantRoom(msg.ID)
	case "join-customer":
		room = CustomerRoom(msg.ID)
	case "join-driver":
		room = DriverRoom(msg.ID)
	default:
		return
	}
	if _, ok := c.allowed[room]; !ok {
		c.log.Action("join_denied").Warn("actor not entitled to room", "room", room)
		return
	}
	c.reg.Join(room, c)
	c.log.Action("room_joined").Debug("client joined room", "room", room)
}

// writePump drains the send channel and keeps the connection alive with pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
