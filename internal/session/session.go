// Package session tracks the client's login state: who is logged in and
// which realtime channel belongs to that login. It is held by value inside
// one messenger.Client; there is no process-wide session.
package session

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/whisper/instant-messaging/internal/protocol"
	"github.com/whisper/instant-messaging/internal/realtime"
)

// State is a step of the login state machine:
// LoggedOut -> LoggingIn -> LoggedIn -> LoggedOut.
type State int

const (
	StateLoggedOut State = iota
	StateLoggingIn
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateLoggingIn:
		return "logging_in"
	case StateLoggedIn:
		return "logged_in"
	}
	return "unknown"
}

var (
	// ErrAlreadyLoggedIn is returned by Begin unless the session is logged out.
	ErrAlreadyLoggedIn = errors.New("session: already logged in")
	// ErrAttemptAborted is returned by Establish when the login attempt was
	// ended (for example by a logout) before it completed.
	ErrAttemptAborted = errors.New("session: login attempt aborted")
)

// Identity is the logged-in user.
type Identity struct {
	UserID   protocol.ID
	Username string
}

// Attempt identifies one login attempt started by Begin.
type Attempt uint64

// Session is safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	state     State
	attempt   Attempt
	identity  Identity
	transport realtime.Transport
}

// New returns a logged-out session.
func New() *Session {
	return &Session{}
}

// Begin moves LoggedOut -> LoggingIn.
func (s *Session) Begin() (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoggedOut {
		return 0, ErrAlreadyLoggedIn
	}
	s.attempt++
	s.state = StateLoggingIn
	return s.attempt, nil
}

// Establish completes attempt a: LoggingIn -> LoggedIn with the given
// identity and channel. If the attempt is no longer current the caller keeps
// ownership of t and must close it.
func (s *Session) Establish(a Attempt, id Identity, t realtime.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoggingIn || s.attempt != a {
		return ErrAttemptAborted
	}
	s.state = StateLoggedIn
	s.identity = id
	s.transport = t
	return nil
}

// Abort returns a failed attempt to LoggedOut. Stale attempts are ignored.
func (s *Session) Abort(a Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateLoggingIn && s.attempt == a {
		s.state = StateLoggedOut
	}
}

// End moves any state to LoggedOut, clears the identity and returns the
// channel the caller must close (nil if none).
func (s *Session) End() realtime.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.transport
	s.state = StateLoggedOut
	s.identity = Identity{}
	s.transport = nil
	return t
}

// Current reports whether attempt a is the live login, either still in
// progress or established. Realtime handlers use it to drop frames that
// arrive after a logout.
func (s *Session) Current(a Attempt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt == a && s.state != StateLoggedOut
}

// Identity returns the logged-in user; zero when logged out.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transport returns the open channel, or nil when not logged in.
func (s *Session) Transport() realtime.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}
