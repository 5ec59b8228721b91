// Package hub fans messages out to connected websocket clients. The
// server runs one hub per stream: the state hub carries projection
// snapshots as JSON, the preview hub carries binary viewport frames.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/tanagerlabs/go-fathom/internal/log"
)

// Message is one outbound payload: JSON text or a binary frame.
type Message struct {
	Binary bool
	Data   []byte
}

// Hub tracks attached clients and broadcasts messages to all of them.
// Clients that cannot keep up with the broadcast rate are evicted
// rather than allowed to stall the rest.
type Hub struct {
	name string

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	mu      sync.RWMutex
	clients map[*Client]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a hub. Start Run in a goroutine before attaching clients.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 64),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the dispatch loop. It exits after Stop, disconnecting every
// attached client.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			log.Debug("ws client attached", "hub", h.name, "total", n)

		case c := <-h.unregister:
			h.drop(c, "")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.drop(c, "send queue full")
			}

		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub down. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	if reason != "" {
		log.Warn("ws client evicted", "hub", h.name, "reason", reason, "remaining", n)
	} else {
		log.Debug("ws client detached", "hub", h.name, "remaining", n)
	}
}

// Broadcast queues a message for every attached client. Non-blocking:
// when the queue is full the message is dropped, like a skipped
// refresh, so producers never stall on the network.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		log.Debug("broadcast queue full, dropping", "hub", h.name)
	}
}

// BroadcastJSON marshals v and broadcasts it as a text message.
func (h *Hub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(Message{Data: data})
	return nil
}

// BroadcastBinary broadcasts raw bytes, e.g. a JPEG preview frame.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(Message{Binary: true, Data: data})
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
