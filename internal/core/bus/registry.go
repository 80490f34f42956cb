// This file implements the Registry, the process-wide table of live publishers.
// Registration is exclusive per StreamKey; explicit removal is the normal way
// a name is freed, with a TTL as a safety net for leaked entries.

package bus

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultPublisherTTL bounds how long a registration survives without removal.
const DefaultPublisherTTL = 24 * time.Hour

// ErrPublisherExists is returned when a key already has a live publisher.
var ErrPublisherExists = errors.New("publisher already exists")

type registryEntry struct {
	publisher *Publisher
	expires   time.Time
}

// Registry maps StreamKey to the live Publisher.
// Lock expectations: one mutex makes register, lookup and remove atomic
// with respect to each other.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[StreamKey]registryEntry
}

// NewRegistry creates a registry. A ttl of zero disables expiry.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[StreamKey]registryEntry),
	}
}

// Register adds p under its key. It fails with ErrPublisherExists when the
// key is taken by a publisher that has not expired.
func (r *Registry) Register(p *Publisher) error {
	r.mu.Lock()
	if e, ok := r.entries[p.Key()]; ok {
		if !r.expiredLocked(e) {
			r.mu.Unlock()
			return ErrPublisherExists
		}
		defer e.publisher.Close()
	}
	entry := registryEntry{publisher: p}
	if r.ttl > 0 {
		entry.expires = r.now().Add(r.ttl)
	}
	r.entries[p.Key()] = entry
	r.mu.Unlock()
	return nil
}

// Lookup returns the live publisher for key, or nil.
func (r *Registry) Lookup(key StreamKey) *Publisher {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if r.expiredLocked(e) {
		delete(r.entries, key)
		r.mu.Unlock()
		e.publisher.Close()
		return nil
	}
	r.mu.Unlock()
	return e.publisher
}

// Remove unregisters p. It only removes the entry if it still refers to p,
// so a stale close cannot evict a newer publisher with the same key.
func (r *Registry) Remove(p *Publisher) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[p.Key()]
	if !ok || e.publisher != p {
		return false
	}
	delete(r.entries, p.Key())
	return true
}

// Sweep removes and closes expired publishers and returns how many it removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var expired []*Publisher
	for key, e := range r.entries {
		if r.expiredLocked(e) {
			expired = append(expired, e.publisher)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()
	for _, p := range expired {
		p.Close()
	}
	return len(expired)
}

// Count returns the number of registered publishers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// List returns registered publishers sorted by key.
func (r *Registry) List() []*Publisher {
	r.mu.Lock()
	pubs := make([]*Publisher, 0, len(r.entries))
	for _, e := range r.entries {
		pubs = append(pubs, e.publisher)
	}
	r.mu.Unlock()
	sort.Slice(pubs, func(i, j int) bool {
		return pubs[i].Key().String() < pubs[j].Key().String()
	})
	return pubs
}

func (r *Registry) expiredLocked(e registryEntry) bool {
	return !e.expires.IsZero() && !r.now().Before(e.expires)
}
