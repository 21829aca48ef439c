// Package realtime pushes session events to browsers over WebSocket.
package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 32
	maxInboundBytes   = 4 * 1024
)

type client struct {
	session domain.SessionID
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub implements domain.RealtimeTransport. A slow client whose buffer is full
// misses messages rather than stalling the publisher.
type Hub struct {
	mu       sync.RWMutex
	clients  map[domain.SessionID]map[*client]struct{}
	upgrader websocket.Upgrader

	writeWait time.Duration
	pongWait  time.Duration
	buffer    int
}

type Option func(*Hub)

// WithCheckOrigin restricts which browser origins may connect.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[domain.SessionID]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeWait: defaultWriteWait,
		pongWait:  defaultPongWait,
		buffer:    defaultSendBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve upgrades the request and keeps the connection registered for
// sessionID until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	c := &client{session: sessionID, conn: conn, send: make(chan []byte, h.buffer)}
	h.register(c)

	log := observability.LoggerFromContext(r.Context()).With("component", "realtime_hub", "session_id", sessionID)
	log.Info("realtime client connected")

	go h.writePump(c)
	h.readPump(c)

	h.unregister(c)
	log.Info("realtime client disconnected")
}

// SendToSession returns how many clients accepted the payload.
func (h *Hub) SendToSession(sessionID domain.SessionID, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients[sessionID] {
		select {
		case c.send <- payload:
			sent++
		default:
		}
	}
	return sent
}

// Clients reports the connections open for a session.
func (h *Hub) Clients(sessionID domain.SessionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.session]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.session] = set
	}
	set[c] = struct{}{}
	observability.RealtimeClients.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[c.session]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.session)
	}
	c.close()
	observability.RealtimeClients.Dec()
}

// readPump only watches for close frames and pongs; clients send nothing.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ping := time.NewTicker(h.pongWait * 9 / 10)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
