// Package hub fans confirmed and merged change events out to connected UI
// clients over WebSocket, so every screen converges on the same store state
// without polling.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/furgotrack/furgotrack-sync-service/internal/feed"
)

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type Hub struct {
	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[uint64]*subscriber),
		logger:      logger,
		upgrader: websocket.Upgrader{
			// The tracker UI is served from a separate origin in dev.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and keeps the subscription until the peer
// goes away. Inbound frames are drained and ignored; the hub is push-only.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	id := h.nextID.Add(1)
	sub := &subscriber{conn: conn}
	h.mu.Lock()
	h.subscribers[id] = sub
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.subscribers, id)
	h.mu.Unlock()
	conn.Close()
}

// Broadcast sends the event to every subscriber. A failed write drops that
// subscriber; the client reconnects and resyncs on its own.
func (h *Hub) Broadcast(ev feed.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal change event", zap.Error(err))
		return
	}

	h.mu.Lock()
	subs := make(map[uint64]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	for id, sub := range subs {
		sub.mu.Lock()
		err := sub.conn.WriteMessage(websocket.TextMessage, payload)
		sub.mu.Unlock()
		if err != nil {
			h.logger.Warn("dropping slow subscriber", zap.Uint64("subscriber", id), zap.Error(err))
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			sub.conn.Close()
		}
	}
}

// Subscribers reports the current subscription count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		sub.conn.Close()
		delete(h.subscribers, id)
	}
}
