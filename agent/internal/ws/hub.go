package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/webhealth/canary/agent/internal/alarm"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks are left to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to dashboard clients.
//
//	{"event":"states","states":[...]}  on connect and every interval
//	{"event":"alarm","alarm":{...}}    on every routed transition
type Message struct {
	Event  string            `json:"event"`
	States []alarm.RuleState `json:"states,omitempty"`
	Alarm  *alarm.Event      `json:"alarm,omitempty"`
}

// StatesFunc reports the current state of every alarm rule.
type StatesFunc func(ctx context.Context) ([]alarm.RuleState, error)

// Hub is the dashboard broadcast subscriber. Every connected WebSocket
// client receives each alarm event; a new client first receives the current
// states of all rules.
type Hub struct {
	states   StatesFunc
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub. When interval is positive, Run also pushes the full
// state list to every client at that interval.
func New(states StatesFunc, interval time.Duration) *Hub {
	return &Hub{
		states:   states,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string { return "dashboard" }

// Deliver broadcasts ev to every connected client. Clients whose buffer is
// full are disconnected; that is not a delivery failure.
func (h *Hub) Deliver(_ context.Context, ev alarm.Event) error {
	data, err := json.Marshal(Message{Event: "alarm", Alarm: &ev})
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

// Run pushes periodic state snapshots until ctx is cancelled, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	var tick <-chan time.Time
	if h.interval > 0 {
		t := time.NewTicker(h.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-tick:
			if data, err := h.statesMessage(ctx); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// ServeHTTP upgrades the connection, sends the current states, then relays
// broadcasts until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}

	if data, err := h.statesMessage(r.Context()); err == nil {
		c.send <- data
	} else {
		slog.Warn("ws: read alarm states failed", "err", err)
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) statesMessage(ctx context.Context) ([]byte, error) {
	states, err := h.states(ctx)
	if err != nil {
		return nil, err
	}
	if states == nil {
		states = []alarm.RuleState{}
	}
	return json.Marshal(Message{Event: "states", States: states})
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast sends under the read lock so no channel is closed mid-send.
func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
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
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles pong and close frames. It blocks until the connection
// closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
