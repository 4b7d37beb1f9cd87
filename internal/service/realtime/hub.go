package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	domsvc "Heimdall/internal/domain/service"
	applogger "Heimdall/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256

	DefaultMaxClients = 1000
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

type client struct {
	id      string
	channel string
	conn    *websocket.Conn
	send    chan []byte
}

type message struct {
	channel string
	data    []byte
}

// Hub fans JSON payloads out to websocket subscribers. Each connection follows
// exactly one channel; slow clients are dropped rather than blocking the broadcaster.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[*client]struct{}
	broadcast  chan message
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	done       chan struct{}
	maxClients int
	gauge      prometheus.Gauge
	l          *applogger.Logger

	totalEvents  atomic.Int64
	droppedCount atomic.Int64
}

type Option func(*Hub)

func WithMaxClients(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

// WithClientGauge reports the connected client count.
func WithClientGauge(g prometheus.Gauge) Option {
	return func(h *Hub) { h.gauge = g }
}

// WithAllowedOrigins restricts browser origins; "*" allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed["*"] || allowed[origin] {
				return true
			}
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		}
	}
}

func NewHub(l *applogger.Logger, opts ...Option) *Hub {
	if l == nil {
		l = applogger.Nop()
	}
	h := &Hub{
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan message, 1024),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		maxClients: DefaultMaxClients,
		l:          l.Component("realtime_hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.setGauge(0)
			h.l.Info("hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.setGauge(n)
			h.l.Debug("client connected", applogger.String("id", c.id), applogger.String("channel", c.channel), applogger.Int("total", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.setGauge(n)
			h.l.Debug("client disconnected", applogger.String("id", c.id), applogger.Int("total", n))

		case m := <-h.broadcast:
			h.totalEvents.Add(1)
			var slow []*client
			h.mu.RLock()
			for c := range h.clients {
				if c.channel != m.channel {
					continue
				}
				select {
				case c.send <- m.data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						close(c.send)
						delete(h.clients, c)
					}
				}
				h.mu.Unlock()
				h.l.Warn("dropped slow clients", applogger.Int("count", len(slow)))
			}
		}
	}
}

// Broadcast serializes payload and queues it for channel subscribers. It never blocks.
func (h *Hub) Broadcast(channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.l.Error("broadcast marshal failed", applogger.String("channel", channel), applogger.Error(err))
		return
	}
	select {
	case h.broadcast <- message{channel: channel, data: data}:
	default:
		h.droppedCount.Add(1)
		h.l.Warn("broadcast queue full, dropping payload", applogger.String("channel", channel))
	}
}

// Stats returns connection counters.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	perChannel := map[string]int{}
	for c := range h.clients {
		perChannel[c.channel]++
	}
	return map[string]interface{}{
		"connected_clients": len(h.clients),
		"channels":          perChannel,
		"total_events":      h.totalEvents.Load(),
		"dropped_events":    h.droppedCount.Load(),
	}
}

// ServeWS upgrades the request and subscribes the connection to channel.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, channel string) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Warn("websocket upgrade failed", applogger.Error(err))
		return
	}

	c := &client{id: uuid.NewString(), channel: channel, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				h.l.Debug("websocket read error", applogger.String("id", c.id), applogger.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
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
				h.l.Debug("websocket write error", applogger.String("id", c.id), applogger.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) setGauge(n int) {
	if h.gauge != nil {
		h.gauge.Set(float64(n))
	}
}

var _ domsvc.Broadcaster = (*Hub)(nil)
