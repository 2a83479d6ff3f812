package server

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

// wsPeer is the slice of *websocket.Conn the hub needs. Kept narrow so
// tests can fan out to fakes.
type wsPeer interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Hub tracks live WebSocket peers and fans pre-serialised payloads out
// to all of them. There are no per-peer queues: a peer that cannot keep
// up fails its write and is dropped, protecting broadcast latency for
// everyone else.
type Hub struct {
	mu    sync.Mutex
	peers map[wsPeer]struct{}
}

func NewHub() *Hub {
	return &Hub{peers: make(map[wsPeer]struct{})}
}

// Add writes the init frame and registers the peer. Holding the lock
// across the write guarantees no delta lands before init.
func (h *Hub) Add(p wsPeer, init []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := p.WriteMessage(websocket.TextMessage, init); err != nil {
		_ = p.Close()
		return err
	}
	h.peers[p] = struct{}{}
	wsClients.Set(float64(len(h.peers)))
	return nil
}

// Remove drops and closes a peer. Safe to call for peers already gone.
func (h *Hub) Remove(p wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(p)
}

func (h *Hub) removeLocked(p wsPeer) {
	if _, ok := h.peers[p]; !ok {
		return
	}
	delete(h.peers, p)
	_ = p.Close()
	wsClients.Set(float64(len(h.peers)))
}

// Broadcast writes payload to every peer. Write errors drop the peer.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var failed []wsPeer
	for p := range h.peers {
		if err := p.WriteMessage(websocket.TextMessage, payload); err != nil {
			failed = append(failed, p)
		}
	}
	for _, p := range failed {
		h.removeLocked(p)
		wsPeersDropped.Inc()
	}
	if len(failed) > 0 {
		logging.Debug(context.Background(), "dropped slow websocket peers", "count", len(failed))
	}
	wsBroadcasts.Inc()
}

// Count returns the live peer count.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}
