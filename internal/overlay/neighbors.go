package overlay

import (
	"sync"

	"github.com/gossipmesh/gossipmesh/internal/identity"
)

// Neighbors is the mutex-guarded neighbor set a peer rebuilds on every peer
// list refresh. The gossip engine and liveness detector both hold a
// reference to the same Neighbors and never copy it, so a refresh is
// visible to both immediately.
type Neighbors struct {
	mu  sync.RWMutex
	ids []identity.ID
}

// NewNeighbors returns an empty neighbor set.
func NewNeighbors() *Neighbors {
	return &Neighbors{}
}

// Set replaces the neighbor set atomically.
func (n *Neighbors) Set(ids []identity.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append([]identity.ID(nil), ids...)
}

// Get returns a defensive copy of the current neighbor set.
func (n *Neighbors) Get() []identity.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]identity.ID, len(n.ids))
	copy(out, n.ids)
	return out
}

// Contains reports whether id is a current neighbor.
func (n *Neighbors) Contains(id identity.ID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, existing := range n.ids {
		if existing.Equal(id) {
			return true
		}
	}
	return false
}

// Len returns the current neighbor count.
func (n *Neighbors) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.ids)
}
