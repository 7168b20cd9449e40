package eventbus

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Handler receives dispatched events. Handlers must not block
// indefinitely; the bus dispatches synchronously in registration order
// (SPEC_FULL.md §4.2).
type Handler func(Event)

// SubscriptionID identifies a registered handler for later Off calls.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	evType  string // "" means subscribed to all types
	handler Handler
}

// Bus is the in-process pub/sub event bus. The subscriber list is
// consulted under a lock; handler invocation happens outside the lock so
// a handler mutating subscriptions does not deadlock (SPEC_FULL.md §5).
type Bus struct {
	mu   sync.Mutex
	subs []subscription

	// logger receives a best-effort diagnostic when a handler panics; a
	// nil logger disables diagnostics output (tests use this to keep
	// output quiet).
	logger *log.Logger
}

// New creates an empty Bus. If logger is nil, a no-op logger is used for
// handler-panic diagnostics.
func New(logger *log.Logger) *Bus {
	return &Bus{logger: logger}
}

// On registers handler for eventType ("" subscribes to every type) and
// returns a handle usable with Off. Subscriptions added during a
// handler's execution (from within Emit) apply to subsequent Emit calls
// only, never to the one currently dispatching (SPEC_FULL.md §4.2).
func (b *Bus) On(eventType string, handler Handler) SubscriptionID {
	id := SubscriptionID(uuid.NewString())
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, evType: eventType, handler: handler})
	b.mu.Unlock()
	return id
}

// Off removes a subscription. It is a no-op if id is unknown (already
// removed or never existed).
func (b *Bus) Off(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches ev to every subscriber registered for ev.Type (or for
// "", the wildcard) at the moment Emit is called, in registration order.
// A snapshot of the subscriber list is taken under lock so that
// additions/removals triggered by a handler never affect this dispatch
// (SPEC_FULL.md §4.2, §5). A handler that panics is recovered and
// logged; it never aborts the emit for subsequent subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		if s.evType != "" && s.evType != ev.Type {
			continue
		}
		b.dispatch(s, ev)
	}
}

func (b *Bus) dispatch(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Printf("eventbus: subscriber %s panicked on %s: %v", s.id, ev.Type, r)
		}
	}()
	s.handler(ev)
}
