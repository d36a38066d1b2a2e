package messenger

import (
	"github.com/whisper/instant-messaging/internal/chat"
	"github.com/whisper/instant-messaging/internal/events"
	"github.com/whisper/instant-messaging/internal/protocol"
	"github.com/whisper/instant-messaging/internal/realtime"
	"github.com/whisper/instant-messaging/internal/rest"
	"github.com/whisper/instant-messaging/internal/session"
)

// Backend resources.
type (
	ID          = protocol.ID
	Direction   = protocol.Direction
	User        = protocol.User
	UserRef     = protocol.UserRef
	Chat        = protocol.Chat
	ChatSummary = protocol.ChatSummary
	Message     = protocol.Message
)

const (
	DirectionTx = protocol.DirectionTx
	DirectionRx = protocol.DirectionRx
)

// Events.
type (
	Kind           = events.Kind
	Event          = events.Event
	Handler        = events.Handler
	Subscription   = events.Subscription
	MessageEvent   = events.MessageEvent
	TypingEvent    = events.TypingEvent
	TypingEndEvent = events.TypingEndEvent
)

const (
	KindMessage   = events.KindMessage
	KindTyping    = events.KindTyping
	KindTypingEnd = events.KindTypingEnd
)

// State is the client's login state.
type State = session.State

const (
	StateLoggedOut = session.StateLoggedOut
	StateLoggingIn = session.StateLoggingIn
	StateLoggedIn  = session.StateLoggedIn
)

// APIError is a non-2xx backend response.
type APIError = rest.APIError

// Errors callers can test for with errors.Is.
var (
	ErrAlreadyLoggedIn  = session.ErrAlreadyLoggedIn
	ErrMalformedPayload = protocol.ErrMalformedPayload
	ErrInvalidContent   = chat.ErrInvalidContent
	ErrClosed           = realtime.ErrClosed
)
