package progress

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/suiyueqingqian/model-check-sub000/internal/observability"
)

// maxWSConnections caps concurrent companion-feed clients (adapted from
// control_plane/ws_hub.go's connection cap).
const maxWSConnections = 200

// snapshotInterval is how often the hub pushes a snapshot to every
// connected client, independent of individual progress events.
const snapshotInterval = 1 * time.Second

// Hub broadcasts progress events and periodic snapshots to WebSocket
// clients, as a companion feed alongside the SSE relay.
// Shaped like control_plane/hub.go's MetricsHub: one broadcaster loop
// instead of a per-connection ticker, single topic instead of per-tenant
// metrics.
type Hub struct {
	bus        *Bus
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub builds a Hub reading events and snapshots from bus.
func NewHub(bus *Bus) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Register adds a new client connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run subscribes to the progress topic and drives the hub's main loop until
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub, err := h.bus.Subscribe(ctx)
	if err != nil {
		log.WithError(err).Error("ws hub: subscribe failed")
		return
	}
	defer sub.Close()

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				log.Warn("ws hub: max connections reached, rejecting client")
				conn.Close()
				continue
			}
			h.clients[conn] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			observability.WSConnectedClients.Set(float64(n))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			observability.WSConnectedClients.Set(float64(n))

		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			h.broadcastRaw(msg.Payload)

		case <-ticker.C:
			h.broadcastSnapshot(ctx)
		}
	}
}

func (h *Hub) broadcastRaw(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.WithError(err).Warn("ws hub: write error")
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) broadcastSnapshot(ctx context.Context) {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n == 0 {
		return
	}

	snapshot, err := h.bus.CurrentSnapshot(ctx)
	if err != nil {
		log.WithError(err).Warn("ws hub: snapshot failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snapshot); err != nil {
			log.WithError(err).Warn("ws hub: write error")
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}
