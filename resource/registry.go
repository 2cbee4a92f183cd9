package resource

import (
	"sync"

	"github.com/wippyai/wasm-bridge/value"
)

// EventType identifies a registry lifecycle event.
type EventType uint8

const (
	EventRegistered EventType = iota
	EventUnregistered
	EventReplaced
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventUnregistered:
		return "unregistered"
	case EventReplaced:
		return "replaced"
	}
	return "unknown"
}

// Event describes a change to a registry slot.
type Event struct {
	Value value.Variant
	ID    uint32
	Type  EventType
}

// Observer receives registry lifecycle events.
type Observer interface {
	OnRegistryEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnRegistryEvent(e Event) { f(e) }

// Registry is a slab of host values addressed by small integer ids.
// Id 0 is nil and is never assigned. Freed ids are reused, most recently
// freed first.
type Registry struct {
	entries   []slot
	freeList  []uint32
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type slot struct {
	value value.Variant
	valid bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make([]slot, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Register stores v and returns its id. Nil values, and any value after
// Close, return 0.
func (r *Registry) Register(v value.Variant) uint32 {
	if value.IsNil(v) {
		return 0
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	var id uint32
	if n := len(r.freeList); n > 0 {
		id = r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		r.entries[id-1] = slot{value: v, valid: true}
	} else {
		r.entries = append(r.entries, slot{value: v, valid: true})
		id = uint32(len(r.entries))
	}
	r.mu.Unlock()

	r.notify(Event{Type: EventRegistered, ID: id, Value: v})
	return id
}

// Get returns the value at id.
func (r *Registry) Get(id uint32) (value.Variant, bool) {
	if id == 0 {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := int(id - 1)
	if idx >= len(r.entries) || !r.entries[idx].valid {
		return nil, false
	}
	return r.entries[idx].value, true
}

// GetOrNil returns the value at id, or Nil when the slot is empty.
func (r *Registry) GetOrNil(id uint32) value.Variant {
	if v, ok := r.Get(id); ok {
		return v
	}
	return value.Nil{}
}

// Unregister frees id and returns the value it held.
func (r *Registry) Unregister(id uint32) (value.Variant, bool) {
	if id == 0 {
		return nil, false
	}

	r.mu.Lock()
	idx := int(id - 1)
	if idx >= len(r.entries) || !r.entries[idx].valid {
		r.mu.Unlock()
		return nil, false
	}
	old := r.entries[idx].value
	r.entries[idx] = slot{}
	r.freeList = append(r.freeList, id)
	r.mu.Unlock()

	r.notify(Event{Type: EventUnregistered, ID: id, Value: old})
	return old, true
}

// Replace swaps the value at an occupied id and returns the previous one.
// Replacing with nil is the same as Unregister. Empty ids are left empty.
func (r *Registry) Replace(id uint32, v value.Variant) (value.Variant, bool) {
	if value.IsNil(v) {
		return r.Unregister(id)
	}
	if id == 0 {
		return nil, false
	}

	r.mu.Lock()
	idx := int(id - 1)
	if idx >= len(r.entries) || !r.entries[idx].valid {
		r.mu.Unlock()
		return nil, false
	}
	old := r.entries[idx].value
	r.entries[idx].value = v
	r.mu.Unlock()

	r.notify(Event{Type: EventReplaced, ID: id, Value: v})
	return old, true
}

// Len returns the number of occupied ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) - len(r.freeList)
}

// Each calls fn for every occupied id in ascending order until fn
// returns false.
func (r *Registry) Each(fn func(id uint32, v value.Variant) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, e := range r.entries {
		if e.valid && !fn(uint32(i+1), e.value) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Close releases every value and rejects further registrations.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.entries = nil
	r.freeList = nil
	return nil
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.OnRegistryEvent(e)
	}
}
