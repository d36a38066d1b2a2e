package events

import (
	"sync"

	"github.com/whisper/instant-messaging/internal/metrics"
	"github.com/whisper/instant-messaging/internal/protocol"
)

// Registry holds handlers per event kind, each optionally scoped to a chat.
// It is safe for concurrent use. Handlers run on the dispatching goroutine,
// outside the registry lock, so a handler may subscribe or unsubscribe.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Kind][]*Subscription
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	reg     *Registry
	id      uint64
	kind    Kind
	chatID  protocol.ID
	handler Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[Kind][]*Subscription)}
}

// Subscribe registers handler for kind. An empty chatID receives events of
// every chat. Unknown kinds and nil handlers are ignored and yield nil.
func (r *Registry) Subscribe(kind Kind, chatID protocol.ID, handler Handler) *Subscription {
	if !kind.Valid() || handler == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{
		reg:     r,
		id:      r.nextID,
		kind:    kind,
		chatID:  chatID,
		handler: handler,
	}
	r.subs[kind] = append(r.subs[kind], sub)
	return sub
}

// Dispatch delivers ev to every subscription of its kind whose scope is
// empty or equal to the event's chat, in registration order. It returns the
// number of handlers invoked.
func (r *Registry) Dispatch(ev Event) int {
	return r.DispatchIf(ev, nil)
}

// DispatchIf is Dispatch guarded by live, which is evaluated under the
// registry lock while the handlers are selected. When it reports false the
// event is dropped and no handler runs. A nil live always delivers.
// Subscriptions made after live turned false are never selected, which is
// what lets a logout fence events produced by the previous session.
func (r *Registry) DispatchIf(ev Event, live func() bool) int {
	kind, chatID := ev.Kind(), ev.ChatID()

	r.mu.Lock()
	if live != nil && !live() {
		r.mu.Unlock()
		return 0
	}
	var targets []Handler
	for _, sub := range r.subs[kind] {
		if sub.chatID.IsZero() || sub.chatID == chatID {
			targets = append(targets, sub.handler)
		}
	}
	r.mu.Unlock()

	metrics.EventsDispatched.WithLabelValues(string(kind)).Inc()
	for _, h := range targets {
		h(ev)
	}
	return len(targets)
}

// UnsubscribeChat removes every subscription of kind scoped to chatID.
// Global subscriptions are removed only when chatID is empty.
func (r *Registry) UnsubscribeChat(kind Kind, chatID protocol.ID) {
	if !kind.Valid() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.filter(kind, func(s *Subscription) bool { return s.chatID != chatID })
}

// Clear drops every subscription of the given kinds, or of all kinds when
// none are named.
func (r *Registry) Clear(kinds ...Kind) {
	if len(kinds) == 0 {
		kinds = Kinds
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range kinds {
		delete(r.subs, k)
	}
}

// Len returns the number of subscriptions held for kind.
func (r *Registry) Len(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[kind])
}

// filter keeps the subscriptions of kind for which keep returns true.
// Callers must hold r.mu. A fresh slice is built so snapshots taken by an
// in-flight Dispatch stay intact.
func (r *Registry) filter(kind Kind, keep func(*Subscription) bool) {
	cur := r.subs[kind]
	next := make([]*Subscription, 0, len(cur))
	for _, s := range cur {
		if keep(s) {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(r.subs, kind)
		return
	}
	r.subs[kind] = next
}

// Kind returns the kind the subscription listens to.
func (s *Subscription) Kind() Kind { return s.kind }

// ChatID returns the subscription's chat scope; empty means global.
func (s *Subscription) ChatID() protocol.ID { return s.chatID }

// Unsubscribe removes this subscription only. It is safe to call on a nil
// subscription and more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.reg == nil {
		return
	}

	r := s.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	r.filter(s.kind, func(other *Subscription) bool { return other.id != s.id })
}
