package server

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/blocklab/blocklab/internal/session"
)

// Conn is the transport surface the registry needs from a connection.
// *websocket.Conn satisfies it; tests substitute a recorder.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// client serializes writes to one connection. Broadcasts can fire from the
// log-flush goroutine concurrently with coordinator replies, and gorilla
// connections do not allow concurrent writers.
type client struct {
	mu   sync.Mutex
	conn Conn
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Registry maps live connection ids to transports and fans session updates
// out to every connection attached to a record. Delivery is best effort:
// ids without a live registration are skipped, write failures are logged
// and never fail the broadcast.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*client)}
}

// Register adds a connection under its id.
func (r *Registry) Register(id string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = &client{conn: conn}
}

// Unregister removes a connection. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Registered reports whether a connection id is live.
func (r *Registry) Registered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[id]
	return ok
}

// Send delivers a JSON-serialized value to a single connection id.
func (r *Registry) Send(id string, v any) {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("registry: marshal error: %v", err)
		return
	}
	if err := c.write(data); err != nil {
		log.Printf("registry: write to %s: %v", id, err)
	}
}

// SendText delivers a plain text frame to a single connection id.
func (r *Registry) SendText(id, msg string) {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.write([]byte(msg)); err != nil {
		log.Printf("registry: write to %s: %v", id, err)
	}
}

// Broadcast sends msg, or the full record when msg is nil, to every
// connection id listed in the record that is currently registered.
func (r *Registry) Broadcast(rec *session.Record, msg *session.WSMessage) {
	var payload any = rec
	if msg != nil {
		payload = msg
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("registry: marshal error: %v", err)
		return
	}

	for _, id := range rec.Clients {
		r.mu.RLock()
		c, ok := r.clients[id]
		r.mu.RUnlock()
		if !ok {
			continue // disconnected between record read and broadcast
		}
		if err := c.write(data); err != nil {
			log.Printf("registry: write to %s: %v", id, err)
		}
	}
}
