package transport

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured channels in failover order. Priority
// sorts ascending; channels sharing a priority keep registration order.
type Registry struct {
	mu       sync.RWMutex
	channels []Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a channel. Duplicate names are rejected so health
// reporting stays unambiguous.
func (r *Registry) Register(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.channels {
		if existing.Name() == ch.Name() {
			return fmt.Errorf("transport: channel %q already registered", ch.Name())
		}
	}
	r.channels = append(r.channels, ch)
	sort.SliceStable(r.channels, func(i, j int) bool {
		return r.channels[i].Priority() < r.channels[j].Priority()
	})
	return nil
}

// Ordered returns the channels in failover order.
func (r *Registry) Ordered() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Get returns the channel with the given name, or nil.
func (r *Registry) Get(name string) Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.channels {
		if ch.Name() == name {
			return ch
		}
	}
	return nil
}

// Health reports every channel's counters in failover order.
func (r *Registry) Health() []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Health, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch.Health())
	}
	return out
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
