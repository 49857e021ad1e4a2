package live

import (
	"context"
	"log"
	"sync"
)

// clientBuffer bounds the per-connection send queue. A client that cannot
// keep up is dropped rather than backpressuring the hub.
const clientBuffer = 32

// Hub fans pipeline lifecycle events out to connected operator websockets.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

// Subscribe registers a new client and returns its event channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Broadcast delivers one event to every connected client. Slow clients miss
// events instead of blocking the feed.
func (h *Hub) Broadcast(event []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// ClientCount reports the number of connected feed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EventSource is the transient bus subscription the hub attaches to.
type EventSource interface {
	SubscribeLive(h func(payload []byte)) (func(), error)
}

// Attach bridges the bus's live subject into the hub until ctx ends.
func (h *Hub) Attach(ctx context.Context, src EventSource) error {
	cancel, err := src.SubscribeLive(h.Broadcast)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	log.Println("[Live] event feed attached")
	return nil
}
