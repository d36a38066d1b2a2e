// Package events routes realtime events to per-chat subscribers and
// synthesises the typingEnd signal from bursts of typing events.
package events

import "github.com/whisper/instant-messaging/internal/protocol"

// Kind names a subscribable event category.
type Kind string

const (
	KindMessage   Kind = "message"
	KindTyping    Kind = "typing"
	KindTypingEnd Kind = "typingEnd"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{KindMessage, KindTyping, KindTypingEnd}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindTyping, KindTypingEnd:
		return true
	}
	return false
}

// Event is delivered to subscription handlers. The concrete type is one of
// MessageEvent, TypingEvent or TypingEndEvent.
type Event interface {
	Kind() Kind
	ChatID() protocol.ID
	sealed()
}

// Handler receives dispatched events.
type Handler func(Event)

// MessageEvent carries a chat message already tagged with its direction.
type MessageEvent struct {
	Message protocol.Message
}

func (MessageEvent) Kind() Kind { return KindMessage }
func (e MessageEvent) ChatID() protocol.ID { return e.Message.Chat.ID }
func (MessageEvent) sealed() {}

// TypingEvent is the relayed typing signal of another participant.
type TypingEvent struct {
	Typing protocol.TypingPayload
}

func (TypingEvent) Kind() Kind { return KindTyping }
func (e TypingEvent) ChatID() protocol.ID { return e.Typing.ChatID }
func (TypingEvent) sealed() {}

// TypingEndEvent is synthesised once a typing burst has gone quiet.
type TypingEndEvent struct {
	Chat protocol.ID `json:"chatID"`
}

func (TypingEndEvent) Kind() Kind { return KindTypingEnd }
func (e TypingEndEvent) ChatID() protocol.ID { return e.Chat }
func (TypingEndEvent) sealed() {}
