package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"proximity-map/internal/logging"
	"proximity-map/internal/metrics"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 1024
	sendBuffer     = 8
)

// Defaults copied into each hub; tests shorten them before newHub.
var (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// sceneMessage is the only message type pushed to the page.
type sceneMessage struct {
	Type string      `json:"type"`
	Data RenderState `json:"data"`
}

// wsClient is one connected page. Only writePump writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsHub fans drawn scenes out to every connected page. The last message is
// kept so a page that connects mid-stream draws immediately.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    []byte
	lastSeq uint64

	pongWait     time.Duration
	pingInterval time.Duration
}

func newHub() *wsHub {
	return &wsHub{
		clients:      make(map[*wsClient]struct{}),
		pongWait:     pongWait,
		pingInterval: pingInterval,
	}
}

func (h *wsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.WSErrors.WithLabelValues("upgrade").Inc()
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.last != nil {
		c.send <- h.last
	}
	h.clients[c] = struct{}{}
	metrics.WSClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	logging.Debug().Str("remote", r.RemoteAddr).Msg("ws client connected")
	go h.writePump(c)
	go h.readPump(c)
}

// removeLocked unregisters c and closes its send channel. h.mu must be held.
func (h *wsHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WSClients.Set(float64(len(h.clients)))
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// broadcast queues state for every client. Scenes with a sequence not newer
// than the last one sent are dropped; a client whose queue is full is
// disconnected rather than waited on.
func (h *wsHub) broadcast(state RenderState) {
	data, err := json.Marshal(sceneMessage{Type: "scene", Data: state})
	if err != nil {
		metrics.WSErrors.WithLabelValues("marshal").Inc()
		logging.Error().Err(err).Msg("encoding scene")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last != nil && state.Seq <= h.lastSeq {
		return
	}
	h.last = data
	h.lastSeq = state.Seq
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			metrics.WSErrors.WithLabelValues("slow_client").Inc()
			h.removeLocked(c)
		}
	}
	metrics.WSBroadcasts.Inc()
}

// clientCount is the number of connected pages.
func (h *wsHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// readPump discards client messages. A peer that neither sends nor answers
// pings within pongWait is dropped.
func (h *wsHub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	}
}

func (h *wsHub) writePump(c *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				metrics.WSErrors.WithLabelValues("write").Inc()
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
