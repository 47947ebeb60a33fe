// Package ws provides the WebSocket transport: connection hub, event
// envelopes and the inbound message dispatcher.
package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 32
)

// Handler consumes inbound traffic from the hub.
type Handler interface {
	HandleMessage(connID string, data []byte)
	HandleDisconnect(connID string)
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks live connections and their room grouping, and fans out
// outbound events. Game logic never sees a connection.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]*client

	handler  Handler
	upgrader websocket.Upgrader
}

// NewHub creates a hub. When allowedOrigin is non-empty, upgrades are
// restricted to that origin.
func NewHub(allowedOrigin string) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return strings.HasPrefix(r.Header.Get("Origin"), allowedOrigin)
			},
		},
	}
}

// SetHandler binds the inbound message handler. Must be called before
// the first upgrade.
func (h *Hub) SetHandler(handler Handler) { h.handler = handler }

// ServeWS upgrades an HTTP request into a tracked connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	zlog.Debug().Msgf("connection opened: conn=%s remote=%s", c.id, conn.RemoteAddr())

	go c.writePump()
	go c.readPump()
}

// JoinRoomGroup binds a connection to a room's broadcast group.
func (h *Hub) JoinRoomGroup(connID, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return
	}
	if h.rooms[roomCode] == nil {
		h.rooms[roomCode] = make(map[string]*client)
	}
	h.rooms[roomCode][connID] = c
}

// LeaveRoomGroup unbinds a connection from a room's broadcast group.
func (h *Hub) LeaveRoomGroup(connID, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(connID, roomCode)
}

func (h *Hub) removeFromRoomLocked(connID, roomCode string) {
	if group, ok := h.rooms[roomCode]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(h.rooms, roomCode)
		}
	}
}

// Broadcast sends an event to every connection in a room. A connection
// whose buffer is full is dropped rather than allowed to stall the
// room.
func (h *Hub) Broadcast(roomCode, event string, payload any) {
	data, err := marshalEvent(event, "", payload)
	if err != nil {
		zlog.Error().Msgf("event marshal failed: event=%s err=%v", event, err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for _, c := range h.rooms[roomCode] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		zlog.Warn().Msgf("dropping slow consumer: conn=%s room=%s", c.id, roomCode)
		c.conn.Close()
	}
}

// Send delivers an event to a single connection.
func (h *Hub) Send(connID, event string, payload any) {
	h.reply(connID, event, "", payload)
}

// Reply delivers an event echoing the request id it answers.
func (h *Hub) Reply(connID, event, requestID string, payload any) {
	h.reply(connID, event, requestID, payload)
}

func (h *Hub) reply(connID, event, requestID string, payload any) {
	data, err := marshalEvent(event, requestID, payload)
	if err != nil {
		zlog.Error().Msgf("event marshal failed: event=%s err=%v", event, err)
		return
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case c.send <- data:
	default:
		zlog.Warn().Msgf("dropping slow consumer: conn=%s", c.id)
		c.conn.Close()
	}
}

// Shutdown closes every live connection. Read pumps observe the close
// and run the normal unregister path.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.conn.Close()
	}
}

func marshalEvent(event, requestID string, payload any) ([]byte, error) {
	return json.Marshal(Outbound{Type: event, ID: requestID, Payload: payload})
}

// unregister removes a connection from all hub state.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for code := range h.rooms {
		h.removeFromRoomLocked(c.id, code)
	}
	close(c.send)
	h.mu.Unlock()

	zlog.Debug().Msgf("connection closed: conn=%s", c.id)
	if h.handler != nil {
		h.handler.HandleDisconnect(c.id)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Debug().Msgf("read error: conn=%s err=%v", c.id, err)
			}
			return
		}
		if c.hub.handler != nil {
			c.hub.handler.HandleMessage(c.id, data)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
