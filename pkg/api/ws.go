package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sipeed/clawfeed/pkg/bus"
	"github.com/sipeed/clawfeed/pkg/events"
	"github.com/sipeed/clawfeed/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512

	// DefaultQueueSize is the per-client outbound queue length.
	DefaultQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts same-origin requests and localhost dashboards.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Non-browser clients send no Origin header
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	if isAllowedOrigin(origin) {
		return true
	}
	logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
	return false
}

// Feed messages. A connection receives exactly one history message, then one
// event message per live event.
const (
	MessageHistory = "history"
	MessageEvent   = "event"
)

// HistoryMessage is the first frame sent on every connection.
type HistoryMessage struct {
	Type   string         `json:"type"`
	Events []events.Event `json:"events"`
}

// EventMessage carries one live event.
type EventMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

// WSClient is one connected viewer.
type WSClient struct {
	id   string
	conn *websocket.Conn
	hub  *WSHub

	history []events.Event // replayed by writePump before anything in send
	sub     bus.SubscriptionID
	send    chan events.Event

	done      chan struct{}
	closed    atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
}

// WSHub tracks connected viewers and attaches each to the event bus.
type WSHub struct {
	bus       *bus.EventBus
	queueSize int

	clients map[string]*WSClient
	closed  bool
	mu      sync.RWMutex
}

// HubOption customizes a WSHub.
type HubOption func(*WSHub)

// WithQueueSize sets the per-client outbound queue length.
func WithQueueSize(n int) HubOption {
	return func(h *WSHub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// NewWSHub creates a hub streaming from b.
func NewWSHub(b *bus.EventBus, opts ...HubOption) *WSHub {
	h := &WSHub{
		bus:       b,
		queueSize: DefaultQueueSize,
		clients:   make(map[string]*WSClient),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *WSHub) Run(ctx context.Context) {
	<-ctx.Done()
	h.CloseAll()
}

// CloseAll disconnects every client and refuses new ones.
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*WSClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Count returns the number of connected clients.
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and starts streaming. The server
// registers it behind keyGuard, so browsers pass the key as ?token=.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		conn: conn,
		hub:  h,
		send: make(chan events.Event, h.queueSize),
		done: make(chan struct{}),
	}

	// History and subscription are taken together so the client sees every
	// event exactly once.
	client.history, client.sub = h.bus.SubscribeWithHistory(client.deliver)

	// A closed bus would leave the viewer with history and a dead stream.
	if client.sub == bus.NoSubscription || !h.add(client) {
		logger.DebugCF("ws", "Refusing viewer during shutdown", map[string]interface{}{
			"client": client.id,
		})
		client.close()
		return
	}

	logger.DebugCF("ws", "Client connected", map[string]interface{}{
		"client":  client.id,
		"history": len(client.history),
	})

	go client.writePump()
	go client.readPump()
}

func (h *WSHub) add(c *WSClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *WSHub) remove(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

// --- Client methods ---

// deliver is the bus handler. It runs under the bus lock, so it only
// enqueues. A client whose queue is full is stopped rather than served with a
// gap; writePump then tears it down and the viewer gets fresh history when it
// reconnects.
func (c *WSClient) deliver(ev events.Event) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- ev:
	default:
		logger.WarnCF("ws", "Client too slow, disconnecting", map[string]interface{}{
			"client": c.id,
		})
		c.stop()
	}
}

// stop marks the client closed and wakes writePump. Safe under the bus lock.
func (c *WSClient) stop() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// close unsubscribes, deregisters and closes the connection. Idempotent; the
// subscription is gone by the time the first call returns.
func (c *WSClient) close() {
	c.closeOnce.Do(func() {
		c.stop()
		c.hub.bus.Unsubscribe(c.sub)
		c.hub.remove(c)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.conn.Close()

		logger.DebugCF("ws", "Client disconnected", map[string]interface{}{
			"client": c.id,
		})
	})
}

func (c *WSClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	if !c.write(HistoryMessage{Type: MessageHistory, Events: c.history}) {
		return
	}
	c.history = nil

	for {
		select {
		case <-c.done:
			return

		case ev := <-c.send:
			if !c.write(EventMessage{Type: MessageEvent, Event: ev}) {
				return
			}

		case <-ticker.C:
			if c.closed.Load() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// write sends one JSON frame. A closed client drops the frame silently.
func (c *WSClient) write(v interface{}) bool {
	if c.closed.Load() {
		return false
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		logger.DebugCF("ws", "Write failed", map[string]interface{}{
			"client": c.id,
			"error":  err.Error(),
		})
		return false
	}
	return true
}
