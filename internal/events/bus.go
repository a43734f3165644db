package events

import (
	"sync"

	"github.com/desertthunder/tunelink/internal/models"
)

// Type names a domain event.
type Type string

const (
	NodeCreate     Type = "node.create"
	NodeConnect    Type = "node.connect"
	NodeDisconnect Type = "node.disconnect"
	NodeError      Type = "node.error"
	NodeDestroy    Type = "node.destroy"

	PlayerCreate  Type = "player.create"
	PlayerDestroy Type = "player.destroy"
	PlayerMove    Type = "player.move"

	TrackStart   Type = "track.start"
	TrackResumed Type = "track.resumed"
	TrackEnd     Type = "track.end"
	TrackError   Type = "track.error"
	TrackStuck   Type = "track.stuck"
	QueueEnd     Type = "queue.end"

	Debug Type = "debug"
)

// Event is one occurrence on the bus. Node and GuildID identify the source
// entity where applicable; Payload carries event-specific wire data.
type Event struct {
	Type    Type
	Node    string
	GuildID string
	Track   *models.Track
	Err     error
	Payload map[string]any
}

// Publisher is the emit side of the bus, implemented by [Bus] and injected
// into every entity that raises domain events.
type Publisher interface {
	Emit(evt Event)
}

type subscriber struct {
	ch    chan Event
	types map[Type]struct{} // nil means all types
}

// Bus fans events out to subscribers. Sends are non-blocking: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no types are given. The cancel function must be called to
// release the subscription.
func (b *Bus) Subscribe(types ...Type) (ch <-chan Event, cancel func()) {
	sub := &subscriber{ch: make(chan Event, 64)}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Emit delivers evt to every matching subscriber without blocking.
func (b *Bus) Emit(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for sub := range b.subs {
		if sub.types != nil {
			if _, ok := sub.types[evt.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Close shuts the bus down and closes all subscriber channels. Further emits
// are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
