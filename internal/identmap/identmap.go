// Package identmap is a concurrent identifier → subscriber map used for
// mention-based matches.
package identmap

import (
	"sync"

	"github.com/bskyhook/notifier/internal/subscriber"
)

// Map is a readers-writer mapping from a subscriber's external identifier
// (their DID) to the subscriber record. Only Insert, Remove, and Get are
// exposed; collisions are last-writer-wins.
type Map struct {
	mu sync.RWMutex
	m  map[string]*subscriber.Subscriber
}

// New returns an empty Map.
func New() *Map {
	return &Map{m: make(map[string]*subscriber.Subscriber)}
}

// Insert registers sub under did, overwriting any existing entry.
func (m *Map) Insert(did string, sub *subscriber.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[did] = sub
}

// Remove deletes the entry for did, if any.
func (m *Map) Remove(did string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, did)
}

// Get returns the subscriber registered under did, and whether one exists.
// The returned pointer is a shared handle; callers must not hold mu while
// acting on it, which Get never does — the lock is released before return.
func (m *Map) Get(did string) (*subscriber.Subscriber, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.m[did]
	return sub, ok
}
