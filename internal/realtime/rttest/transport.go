// Package rttest provides realtime test doubles: an in-memory Transport and
// Dialer that record emitted events and let tests inject inbound ones, and a
// websocket Server for end-to-end tests over the real client.
package rttest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/whisper/instant-messaging/internal/protocol"
	"github.com/whisper/instant-messaging/internal/realtime"
)

// Emitted is one event sent through a Transport.
type Emitted struct {
	Event   string
	Payload json.RawMessage
}

// Transport is an in-memory realtime.Transport.
type Transport struct {
	UserID protocol.ID

	mu       sync.Mutex
	handlers realtime.Handlers
	emitted  []Emitted
	closed   bool
	done     chan struct{}
	emitErr  error
}

// NewTransport returns an open transport for userID with handlers bound.
func NewTransport(userID protocol.ID, handlers realtime.Handlers) *Transport {
	return &Transport{UserID: userID, handlers: handlers, done: make(chan struct{})}
}

// Emit implements realtime.Transport.
func (t *Transport) Emit(ctx context.Context, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "rttest: marshal payload")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return realtime.ErrClosed
	}
	if t.emitErr != nil {
		return t.emitErr
	}
	t.emitted = append(t.emitted, Emitted{Event: event, Payload: raw})
	return nil
}

// Close implements realtime.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// Drop simulates the server ending the channel. The client side sees it as
// closed, exactly as after Close.
func (t *Transport) Drop() { _ = t.Close() }

// Done implements realtime.Transport.
func (t *Transport) Done() <-chan struct{} { return t.done }

// FailEmits makes every later Emit return err.
func (t *Transport) FailEmits(err error) {
	t.mu.Lock()
	t.emitErr = err
	t.mu.Unlock()
}

// Deliver marshals payload and runs the handler bound to event, as the read
// loop would. It reports whether a handler was bound.
func (t *Transport) Deliver(event string, payload interface{}) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return t.DeliverRaw(event, raw)
}

// DeliverRaw runs the handler bound to event with a raw payload.
func (t *Transport) DeliverRaw(event string, raw json.RawMessage) bool {
	t.mu.Lock()
	h, ok := t.handlers[event]
	closed := t.closed
	t.mu.Unlock()

	if !ok || closed {
		return false
	}
	h(raw)
	return true
}

// Emitted returns a copy of every event emitted so far.
func (t *Transport) Emitted() []Emitted {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Emitted(nil), t.emitted...)
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Dialer hands out Transports and remembers them.
type Dialer struct {
	mu         sync.Mutex
	transports []*Transport
	err        error
}

// Dial implements realtime.DialFunc.
func (d *Dialer) Dial(ctx context.Context, userID protocol.ID, handlers realtime.Handlers) (realtime.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	t := NewTransport(userID, handlers)
	d.transports = append(d.transports, t)
	return t, nil
}

// FailWith makes every later Dial return err.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Last returns the most recently dialed transport, or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// Count returns the number of successful dials.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

var _ realtime.Transport = (*Transport)(nil)
