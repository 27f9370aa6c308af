// Package events provides listener-based pub/sub for engine events.
package events

import "sync"

// Event types emitted by the engine.
const (
	TypeNetwork      = "network"      // {online: bool}
	TypeConnection   = "connection"   // network-quality descriptors
	TypeDataStored   = "dataStored"   // {table, id, needsSync}
	TypeSyncComplete = "syncComplete" // {synchronized, failed, conflicts}
)

// Event is a typed notification with a loose data payload.
type Event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Listener receives events of the type it subscribed to.
type Listener func(Event)

// Bus is a minimal event target: subscribe by type, emit in order.
// Delivery is synchronous; listeners must not block.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[string]map[int]Listener
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[string]map[int]Listener),
	}
}

// Subscribe registers a listener for one event type and returns a
// disposer that removes it. Disposing twice is harmless.
func (b *Bus) Subscribe(eventType string, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listeners[eventType] == nil {
		b.listeners[eventType] = make(map[int]Listener)
	}
	id := b.nextID
	b.nextID++
	b.listeners[eventType][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[eventType], id)
	}
}

// Emit delivers an event to all listeners subscribed to its type.
func (b *Bus) Emit(evt Event) {
	b.mu.RLock()
	subs := make([]Listener, 0, len(b.listeners[evt.Type]))
	for _, fn := range b.listeners[evt.Type] {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}

// ListenerCount returns the number of listeners for an event type.
func (b *Bus) ListenerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[eventType])
}
