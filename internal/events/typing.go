package events

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/whisper/instant-messaging/internal/protocol"
)

// DefaultTypingTimeout is how long after the first typing signal of a burst
// the typingEnd event is emitted.
const DefaultTypingTimeout = 3 * time.Second

// Debouncer turns bursts of typing signals into a single typingEnd per chat.
// The window opens on the first signal and is not extended by later ones.
type Debouncer struct {
	clock   clockwork.Clock
	timeout time.Duration
	emit    EmitFunc

	mu         sync.Mutex
	gen        uint64
	countdowns map[protocol.ID]*countdown
}

type countdown struct {
	gen   uint64
	timer clockwork.Timer
}

// EmitFunc receives an expired countdown. live reports whether the
// countdown still belongs to the current generation; callers evaluate it at
// the moment they commit to delivering, since Stop may run concurrently.
type EmitFunc func(ev TypingEndEvent, live func() bool)

// NewDebouncer returns a debouncer that calls emit when a chat's countdown
// expires. A nil clock uses the real clock; a non-positive timeout uses
// DefaultTypingTimeout.
func NewDebouncer(clock clockwork.Clock, timeout time.Duration, emit EmitFunc) *Debouncer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Debouncer{
		clock:      clock,
		timeout:    timeout,
		emit:       emit,
		countdowns: make(map[protocol.ID]*countdown),
	}
}

// Generation returns the current generation. Stop advances it.
func (d *Debouncer) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// Live reports whether gen is still the current generation.
func (d *Debouncer) Live(gen uint64) bool {
	return d.Generation() == gen
}

// Signal records a typing signal for chatID on behalf of generation gen and
// starts the countdown if none is pending. Signals from a generation that
// Stop has retired are ignored. It reports whether a new countdown was
// started.
func (d *Debouncer) Signal(chatID protocol.ID, gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.gen {
		return false
	}
	if _, pending := d.countdowns[chatID]; pending {
		return false
	}

	cd := &countdown{gen: d.gen}
	d.countdowns[chatID] = cd
	cd.timer = d.clock.AfterFunc(d.timeout, func() { d.fire(chatID, cd) })
	return true
}

// fire emits typingEnd and then clears the countdown, so a signal racing with
// the emission is folded into the window that just closed.
func (d *Debouncer) fire(chatID protocol.ID, cd *countdown) {
	d.mu.Lock()
	if d.countdowns[chatID] != cd || cd.gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if d.emit != nil {
		d.emit(TypingEndEvent{Chat: chatID}, func() bool { return d.Live(cd.gen) })
	}

	d.mu.Lock()
	if d.countdowns[chatID] == cd {
		delete(d.countdowns, chatID)
	}
	d.mu.Unlock()
}

// Stop cancels every pending countdown and retires the current generation.
// A timer that has already expired but not yet taken the lock is discarded
// without emitting; one already emitting sees live turn false.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	for id, cd := range d.countdowns {
		if cd.timer != nil {
			cd.timer.Stop()
		}
		delete(d.countdowns, id)
	}
}

// Pending reports whether a countdown is running for chatID.
func (d *Debouncer) Pending(chatID protocol.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.countdowns[chatID]
	return ok
}
