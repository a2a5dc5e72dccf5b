package agent

import (
	"sync"

	"github.com/aura-webinar/decibel-relay/internal/models"
)

// Event is a typed notification for the presentation layer.
type Event interface{ event() }

// SessionCreated fires when the server accepted our create_session.
type SessionCreated struct{ SessionID string }

// SessionJoined fires when the server accepted our join_session.
type SessionJoined struct {
	SessionID string
	Active    bool
}

// ReadingReceived fires for every reading kept in the mirror, with the
// running maximum of the current recording.
type ReadingReceived struct {
	Reading models.Reading
	Max     models.Decibel
}

// SummaryLogged fires for every summary record inserted into the mirror.
type SummaryLogged struct{ Record models.SummaryRecord }

// TimerSynced fires when the countdown changes.
type TimerSynced struct{ Timer models.TimerState }

// SessionReset fires after a full reset cleared the mirror.
type SessionReset struct{}

// ViewLogReset fires after the summary log was cleared.
type ViewLogReset struct{}

// SessionEnded is terminal: nothing follows it on this connection.
type SessionEnded struct{ Reason string }

// ServerError carries an error frame.
type ServerError struct{ Message string }

// StateChanged fires on every role state transition.
type StateChanged struct{ From, To State }

func (SessionCreated) event()  {}
func (SessionJoined) event()   {}
func (ReadingReceived) event() {}
func (SummaryLogged) event()   {}
func (TimerSynced) event()     {}
func (SessionReset) event()    {}
func (ViewLogReset) event()    {}
func (SessionEnded) event()    {}
func (ServerError) event()     {}
func (StateChanged) event()    {}

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers events in order to every subscriber.
func (b *Bus) Publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
