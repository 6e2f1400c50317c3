// Package subscriber defines the shared subscriber record used by the index,
// the identifier map, and the delivery workers.
package subscriber

import (
	"sync/atomic"
)

var idCounter uint64

// Subscriber is an immutable identity plus a mutable downtime counter. It is
// created once when loaded from the persistent store and shared by reference
// across the index, the identifier map, and any in-flight delivery task.
type Subscriber struct {
	// ID is process-unique and monotonically assigned at construction. It has
	// no relation to anything in the Bluesky network; it only exists to make
	// tree/map membership checks cheap.
	ID uint64

	// DID is the subscriber's stable external identifier, if they registered
	// one. A subscriber without a DID is never reachable via mention lookups.
	DID string

	// Endpoint is the webhook URL deliveries are POSTed to.
	Endpoint string

	// Key is the 32-byte Ed25519 seed used to sign delivery payloads.
	Key [32]byte

	// Phrases is owned by the store adapter; the index and delivery workers
	// only read it, during eviction cleanup.
	Phrases []string

	downtimeStart atomic.Int64
}

// New constructs a Subscriber with a freshly assigned ID. phrases is retained
// as-is and must not be mutated by the caller afterwards.
func New(did, endpoint string, key [32]byte, phrases []string) *Subscriber {
	return &Subscriber{
		ID:       atomic.AddUint64(&idCounter, 1),
		DID:      did,
		Endpoint: endpoint,
		Key:      key,
		Phrases:  phrases,
	}
}

// HasDID reports whether this subscriber registered a mention identifier.
func (s *Subscriber) HasDID() bool {
	return s.DID != ""
}

// DowntimeStart returns the millisecond Unix timestamp the subscriber's
// endpoint started failing, or 0 if currently healthy.
func (s *Subscriber) DowntimeStart() int64 {
	return s.downtimeStart.Load()
}

// SetDowntimeStart atomically sets the downtime-start timestamp. Pass 0 to
// mark the subscriber healthy again.
func (s *Subscriber) SetDowntimeStart(ms int64) {
	s.downtimeStart.Store(ms)
}
