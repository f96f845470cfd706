package observe

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsHub manages connected WebSocket viewers and broadcasts Events to
// them. Adapted from the teacher's dashboard hub: same register/
// unregister/broadcast channel shape, retargeted to book/hub events.
type wsHub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	mu         sync.RWMutex
	logger     *slog.Logger
}

// wsClient is one connected viewer.
type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

func newWSHub(logger *slog.Logger) *wsHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With("component", "observe-ws-hub"),
	}
}

// run is the hub's main loop; call it in a goroutine.
func (h *wsHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *wsHub) broadcastEvent(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("observe: failed to marshal event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("observe: broadcast channel full, dropping event")
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

func (c *wsClient) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// The status feed is read-only; any inbound frame is drained and
		// ignored purely to detect disconnects and pongs.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func newWSClient(hub *wsHub, conn *websocket.Conn) *wsClient {
	client := &wsClient{hub: hub, conn: conn, send: make(chan []byte, 256)}
	client.hub.register <- client
	go client.writePump()
	go client.readPump()
	return client
}
