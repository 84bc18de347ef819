package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raysh454/spyglass/internal/eventbus"
	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
)

// clientSendBuffer is the per-connection backlog; a client that falls this
// far behind is disconnected.
const clientSendBuffer = 64

const writeTimeout = 10 * time.Second

// wsHub fans one bus subscription out to every connected websocket client.
// The bus already buffers per subscriber, so the hub's only job is delivery
// and kicking out clients that cannot keep up.
type wsHub struct {
	logger logging.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan model.ChangeEvent
	once sync.Once
}

func newWSHub(sub *eventbus.Subscription, logger logging.Logger) *wsHub {
	h := &wsHub{
		logger:  logging.OrNop(logger).With(logging.F("component", "ws")),
		clients: map[*wsClient]struct{}{},
	}
	go h.pump(sub)
	return h
}

// pump drains the bus subscription for the hub's lifetime. It exits when the
// bus closes.
func (h *wsHub) pump(sub *eventbus.Subscription) {
	for ev := range sub.Events() {
		h.broadcast(ev)
	}
	h.close()
}

// broadcast delivers the event to every registered client. Sends happen
// under h.mu so they can never race remove closing a send channel; the
// sends are non-blocking, so holding the lock is cheap.
func (h *wsHub) broadcast(ev model.ChangeEvent) {
	var slow []*wsClient

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Full backlog means the client stopped reading.
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("disconnecting slow websocket client",
			logging.F("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// add registers a connection and starts its read/write loops.
func (h *wsHub) add(conn *websocket.Conn) {
	c := &wsClient{conn: conn, send: make(chan model.ChangeEvent, clientSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop serializes events to the client until its send channel closes.
func (h *wsHub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// readLoop discards inbound frames; its only purpose is noticing the client
// went away.
func (h *wsHub) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// remove unregisters the client and closes its send channel exactly once.
// The close happens under h.mu, mutually exclusive with broadcast's sends.
func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
	h.mu.Unlock()
}

func (h *wsHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// close disconnects every client. Safe to call more than once.
func (h *wsHub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.clients {
		c.once.Do(func() { close(c.send) })
	}
	h.clients = map[*wsClient]struct{}{}
	h.mu.Unlock()
}
