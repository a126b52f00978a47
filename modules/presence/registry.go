package presence

import (
	"log"
	"sync"
)

// Registry maps each user to their single live client.
type Registry struct {
	clients map[string]*Client // userID -> client
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Register binds userID to c and returns the client it replaced, if any.
// The replaced client is closed so its connection does not linger unreachable.
func (r *Registry) Register(userID string, c *Client) *Client {
	r.mu.Lock()
	prev := r.clients[userID]
	r.clients[userID] = c
	r.mu.Unlock()

	if prev == nil || prev == c {
		log.Printf("[presence] Client %s registered for user %s", c.ID, userID)
		return nil
	}
	prev.Close()
	log.Printf("[presence] Client %s replaced %s for user %s", c.ID, prev.ID, userID)
	return prev
}

// Unregister removes the binding for userID. It is a no-op if none exists.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, userID)
}

// UnregisterClient removes the binding only if it still points at c, so a
// replaced connection going away never evicts its successor.
func (r *Registry) UnregisterClient(userID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.clients[userID]; ok && cur == c {
		delete(r.clients, userID)
		return true
	}
	return false
}

// Lookup returns the live client of userID.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

// Count returns the number of bound users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes and forgets every client. It returns how many were bound.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}
