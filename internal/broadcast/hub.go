package broadcast

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 50 * time.Second
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

// Connection is one WebSocket observer of a session. Its ID doubles as the
// socket id the client echoes back on HTTP calls for originator exclusion.
type Connection struct {
	ID        string
	SessionID uint
	ws        *websocket.Conn
	Send      chan []byte
}

// Hub routes message events to the connections observing each session.
type Hub struct {
	connections map[string]*Connection
	sessions    map[uint]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	deliveries chan delivery

	mu sync.RWMutex
}

type delivery struct {
	sessionID uint
	excludeID string
	data      []byte
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[uint]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		deliveries:  make(chan delivery, 256),
	}
}

// Run owns the connection tables. It runs until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[string]bool)
			}
			h.sessions[conn.SessionID][conn.ID] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if observers := h.sessions[conn.SessionID]; observers != nil {
					delete(observers, conn.ID)
					if len(observers) == 0 {
						delete(h.sessions, conn.SessionID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()

		case d := <-h.deliveries:
			h.mu.RLock()
			for connID := range h.sessions[d.sessionID] {
				if connID == d.excludeID {
					continue
				}
				conn, ok := h.connections[connID]
				if !ok {
					continue
				}
				select {
				case conn.Send <- d.data:
				default:
					// Slow consumer, drop it rather than block the hub.
					log.Printf("broadcast: connection %s buffer full, dropping", connID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection wraps a WebSocket for the given session with a fresh socket id.
func (h *Hub) NewConnection(ws *websocket.Conn, sessionID uint) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		ws:        ws,
		Send:      make(chan []byte, sendBufferSize),
	}
}

func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Broadcast queues data for every observer of the session except excludeID.
func (h *Hub) Broadcast(sessionID uint, data []byte, excludeID string) {
	h.deliveries <- delivery{sessionID: sessionID, excludeID: excludeID, data: data}
}

// ObserverCount reports how many connections are watching the session.
func (h *Hub) ObserverCount(sessionID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SendJSON writes a payload to a single connection's buffer.
func (h *Hub) SendJSON(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ReadPump drains inbound frames until the peer disconnects. Observers do not
// speak; reading only services pings and surfaces closes.
func (c *Connection) ReadPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("broadcast: read failed on %s: %v", c.ID, err)
			}
			return
		}
	}
}

// WritePump flushes the send buffer to the peer and keeps the connection
// alive with pings.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var ErrBufferFull = &BufferFullError{}

type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
