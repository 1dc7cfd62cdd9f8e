package marketdata

import (
	"sync"
)

// Event is what the bus fans out to WebSocket subscribers: quotes and
// account notifications. Account events carry the owning user and venue.
type Event struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Venue  string `json:"venue,omitempty"`
	Data   any    `json:"data"`
}

type subscriber struct {
	ch     chan Event
	filter func(Event) bool
}

type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]subscriber)}
}

// Subscribe registers a buffered channel. A nil filter receives everything.
func (b *Bus) Subscribe(filter func(Event) bool) chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks; slow subscribers miss events. It returns how many
// subscribers received evt.
func (b *Bus) Publish(evt Event) int {
	delivered := 0
	b.mu.RLock()
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
		}
	}
	b.mu.RUnlock()
	return delivered
}

// ForAccount passes quotes and the events addressed to one user.
func ForAccount(userID, venue string) func(Event) bool {
	return func(evt Event) bool {
		if evt.UserID == "" {
			return true
		}
		if evt.UserID != userID {
			return false
		}
		return venue == "" || evt.Venue == "" || evt.Venue == venue
	}
}
