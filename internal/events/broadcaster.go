package events

import (
	"sync"

	"github.com/KG-NINJA/YOLOdemo/internal/logger"
)

// Broadcaster fans pre-serialized events out to subscribers. Slow
// subscribers miss events instead of blocking the publisher.
type Broadcaster struct {
	name string

	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	closed  bool

	// OnCount is called with the subscriber count after every change.
	OnCount func(n int)
}

// NewBroadcaster creates a broadcaster; name tags its log lines.
func NewBroadcaster(name string) *Broadcaster {
	return &Broadcaster{
		name:    name,
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (b *Broadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch
	b.countLocked()

	logger.Debug(b.name, "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		b.countLocked()
		logger.Debug(b.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// ClientCount returns the number of subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish sends event to every subscriber that has room for it and
// returns how many received it.
func (b *Broadcaster) Publish(event *SerializedEvent) int {
	if event == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sent := 0
	for _, ch := range b.clients {
		select {
		case ch <- event:
			sent++
		default:
			// Client too slow, skip this event for this client
		}
	}
	return sent
}

// Close disconnects every subscriber; later subscribers get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	b.countLocked()
}

func (b *Broadcaster) countLocked() {
	if b.OnCount != nil {
		b.OnCount(len(b.clients))
	}
}
