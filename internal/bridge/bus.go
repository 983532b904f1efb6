package bridge

import (
	"sync"

	"github.com/sergiopesch/virtualpodcaststudio/internal/protocol"
)

// Listener receives events published on a Bus. Listeners are invoked
// synchronously, in subscription order, on the publisher's goroutine.
type Listener func(protocol.Event)

type subscription struct {
	id int64
	fn Listener
}

// Bus is the per-session publish/subscribe fan-out. The listener set is
// mutated only by Subscribe/Unsubscribe; Publish iterates a snapshot taken
// under the lock, so a listener registered at publish time receives the
// event exactly once even if it unsubscribes mid-delivery.
type Bus struct {
	mu        sync.Mutex
	nextID    int64
	listeners map[protocol.Kind][]subscription
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[protocol.Kind][]subscription)}
}

// Subscribe registers fn for kind and returns a token for Unsubscribe.
func (b *Bus) Subscribe(kind protocol.Kind, fn Listener) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[kind] = append(b.listeners[kind], subscription{id: id, fn: fn})
	return id
}

// Unsubscribe removes the listener registered under id. Removing an unknown
// id is a no-op.
func (b *Bus) Unsubscribe(kind protocol.Kind, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.listeners[kind]
	for i, sub := range subs {
		if sub.id == id {
			b.listeners[kind] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.listeners[kind]) == 0 {
		delete(b.listeners, kind)
	}
}

// Publish delivers evt to every listener currently subscribed for evt.Kind,
// in the order they subscribed.
func (b *Bus) Publish(evt protocol.Event) {
	b.mu.Lock()
	subs := b.listeners[evt.Kind]
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		sub.fn(evt)
	}
}

// ListenerCount reports the number of listeners for kind.
func (b *Bus) ListenerCount(kind protocol.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[kind])
}
