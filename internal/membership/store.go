// Package membership holds the authoritative set of alive peers at a seed.
// Every mutation is gated behind the consensus coordinator; this package
// only guarantees the set itself never tears under concurrent read/write.
package membership

import (
	"sync"

	"github.com/gossipmesh/gossipmesh/internal/identity"
)

// Store is a mutex-guarded set of peer identities. Reads take a consistent
// snapshot; writes only ever come from a committed consensus decision.
type Store struct {
	mu      sync.RWMutex
	members *identity.Set
}

// New returns an empty membership store.
func New() *Store {
	return &Store{members: identity.NewSet(nil)}
}

// Insert adds peer to the membership set. Returns false if peer was already
// a member (the caller treats this as the idempotent REGISTER case).
func (s *Store) Insert(peer identity.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members.Add(peer)
}

// Remove deletes peer from the membership set. Returns false if peer was
// not a member (the caller treats this as the REMOVE no-op case).
func (s *Store) Remove(peer identity.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members.Remove(peer)
}

// Contains reports whether peer is currently a member.
func (s *Store) Contains(peer identity.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members.Contains(peer)
}

// List returns a snapshot of every current member, safe to range over
// without holding any lock.
func (s *Store) List() []identity.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members.Slice()
}

// Len returns the current membership size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members.Len()
}

// Union adds every id in others that isn't already a member. Used by the
// seed sync loop, which only ever grows a store from another seed's
// committed snapshot — it never removes.
func (s *Store) Union(others []identity.ID) (added []identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range others {
		if s.members.Add(id) {
			added = append(added, id)
		}
	}
	return added
}
