// Package dispatcher implements a named lifecycle event bus: a fixed core
// set of events plus room for plugins to register their own, synchronous
// in-registration-order delivery, and "surface the first error after
// completing delivery" semantics -- so a broken subscriber never prevents
// its siblings from observing the same event.
package dispatcher

import (
	"fmt"
	"sync"
)

// Event names the core GBP lifecycle signals. Plugins may Register
// additional names before subscribing to them.
type Event string

const (
	PrePull    Event = "prepull"
	PostPull   Event = "postpull"
	Published  Event = "published"
	PreDelete  Event = "predelete"
	PostDelete Event = "postdelete"
	Tagged     Event = "tagged"
	Untagged   Event = "untagged"
)

var coreEvents = map[Event]bool{
	PrePull:    true,
	PostPull:   true,
	Published:  true,
	PreDelete:  true,
	PostDelete: true,
	Tagged:     true,
	Untagged:   true,
}

// Subscriber receives the arguments passed to Emit for the event it is
// bound to.
type Subscriber func(args ...any) error

// Token identifies a single subscription, returned by Bind and consumed
// by Unbind.
type Token uint64

// ErrUnknownEvent is returned by Bind for an event that was never
// registered (neither core nor plugin-registered).
type ErrUnknownEvent struct{ Event Event }

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("dispatcher: unknown event %q", e.Event)
}

// ErrEventExists is returned by Register when the event is already known.
type ErrEventExists struct{ Event Event }

func (e *ErrEventExists) Error() string {
	return fmt.Sprintf("dispatcher: event %q already registered", e.Event)
}

// Dispatcher is a registry of known events and their subscribers, guarded
// by a single mutex -- the same discipline the teacher applies to every
// shared in-process map in this codebase.
type binding struct {
	token Token
	fn    Subscriber
}

type Dispatcher struct {
	mu          sync.Mutex
	known       map[Event]bool
	subscribers map[Event][]binding
	nextToken   Token
}

// New constructs a Dispatcher pre-populated with the core event set.
func New() *Dispatcher {
	known := make(map[Event]bool, len(coreEvents))
	for e := range coreEvents {
		known[e] = true
	}
	return &Dispatcher{
		known:       known,
		subscribers: make(map[Event][]binding),
	}
}

// Register adds a plugin-defined event name. Re-registering a known event
// (core or plugin) fails with ErrEventExists.
func (d *Dispatcher) Register(event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.known[event] {
		return &ErrEventExists{Event: event}
	}
	d.known[event] = true
	return nil
}

// Bind subscribes fn to event, appended after any existing subscribers,
// and returns a Token that Unbind can later use to remove it. Binding to
// an unregistered event fails with ErrUnknownEvent.
func (d *Dispatcher) Bind(event Event, fn Subscriber) (Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.known[event] {
		return 0, &ErrUnknownEvent{Event: event}
	}
	d.nextToken++
	tok := d.nextToken
	d.subscribers[event] = append(d.subscribers[event], binding{token: tok, fn: fn})
	return tok, nil
}

// Unbind removes the subscription identified by tok from event, if
// present; otherwise it is a no-op.
func (d *Dispatcher) Unbind(event Event, tok Token) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.subscribers[event]
	for i, b := range subs {
		if b.token == tok {
			d.subscribers[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers args to every subscriber of event synchronously, in
// registration order. Every subscriber runs regardless of earlier
// failures; the first error encountered is returned after delivery
// completes. Emitting an unregistered event is itself an error.
func (d *Dispatcher) Emit(event Event, args ...any) error {
	d.mu.Lock()
	if !d.known[event] {
		d.mu.Unlock()
		return &ErrUnknownEvent{Event: event}
	}
	subs := make([]binding, len(d.subscribers[event]))
	copy(subs, d.subscribers[event])
	d.mu.Unlock()

	var first error
	for _, b := range subs {
		if err := b.fn(args...); err != nil && first == nil {
			first = fmt.Errorf("dispatcher: subscriber to %q failed: %w", event, err)
		}
	}
	return first
}
