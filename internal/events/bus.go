// Package events carries in-process change notifications between the
// regions that render a session (header badge, cart page, checkout).
// Events say *that* something changed; subscribers re-read the
// authoritative state instead of trusting a payload.
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

type Kind string

const (
	CartChanged      Kind = "cartUpdated"
	FavoritesChanged Kind = "favoritesUpdated"
	AuthChanged      Kind = "authUpdated"
)

type Event struct {
	Session string `json:"-"`
	Kind    Kind   `json:"type"`
	// Count is set for FavoritesChanged.
	Count *int `json:"count,omitempty"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(e Event)
}

type Bus struct {
	mu     sync.RWMutex
	next   int
	subs   map[string]map[int]chan Event
	buffer int
	logger zerolog.Logger
}

func NewBus(buffer int, logger zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{
		subs:   make(map[string]map[int]chan Event),
		buffer: buffer,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Publish delivers e to every subscriber of e.Session without blocking. A
// subscriber whose buffer is full misses the event.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs[e.Session] {
		select {
		case ch <- e:
		default:
			b.logger.Warn().Str("session", e.Session).Int("subscriber", id).Str("kind", string(e.Kind)).Msg("subscriber lagging, event dropped")
		}
	}
}

// Subscribe returns a channel of the session's events and a cancel func that
// closes it.
func (b *Bus) Subscribe(session string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[session] == nil {
		b.subs[session] = make(map[int]chan Event)
	}
	b.subs[session][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[session], id)
			if len(b.subs[session]) == 0 {
				delete(b.subs, session)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports how many listeners a session has.
func (b *Bus) Subscribers(session string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[session])
}

func Cart(session string) Event {
	return Event{Session: session, Kind: CartChanged}
}

func Auth(session string) Event {
	return Event{Session: session, Kind: AuthChanged}
}

func Favorites(session string, count int) Event {
	return Event{Session: session, Kind: FavoritesChanged, Count: &count}
}
