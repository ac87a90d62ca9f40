package oa

import (
	"sync"

	"github.com/overhearing/oa-go/pkg/core/types"
)

// ReadyEvent is published on the session bus once the initial snapshot has
// been loaded and live events are flowing. It is synthesized client-side and
// never appears on the wire.
type ReadyEvent struct {
	State *types.SessionState
}

// EventReady is the bus topic for ReadyEvent.
const EventReady = "ready"

func (ReadyEvent) EventType() string { return EventReady }

const busChannelSize = 16

type subscription struct {
	id int
	ch chan types.ServerEvent
}

// eventBus fans events out to per-type subscribers plus wildcard subscribers.
// Publishing never blocks: a subscriber whose channel is full misses that
// event.
type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan types.ServerEvent // event type -> id -> channel
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[string]map[int]chan types.ServerEvent)}
}

// EventAll subscribes to every event type.
const EventAll = "*"

// subscribe registers interest in one event type (or EventAll) and returns
// the delivery channel plus an unsubscribe func. Unsubscribe closes the
// channel.
func (b *eventBus) subscribe(eventType string) (<-chan types.ServerEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	ch := make(chan types.ServerEvent, busChannelSize)
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[int]chan types.ServerEvent)
	}
	b.subs[eventType][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[eventType]; ok {
			if ch, ok := set[id]; ok {
				delete(set, id)
				close(ch)
			}
		}
	}
	return ch, cancel
}

func (b *eventBus) publish(ev types.ServerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverLocked(b.subs[ev.EventType()], ev)
	b.deliverLocked(b.subs[EventAll], ev)
}

func (b *eventBus) deliverLocked(set map[int]chan types.ServerEvent, ev types.ServerEvent) {
	for _, ch := range set {
		select {
		case ch <- ev:
		default:
			// Subscriber is backed up; drop rather than stall the stream.
		}
	}
}

// closeAll closes every subscriber channel. Used on session teardown.
func (b *eventBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.subs {
		for id, ch := range set {
			delete(set, id)
			close(ch)
		}
	}
}
