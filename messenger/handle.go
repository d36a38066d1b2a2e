package messenger

import (
	"context"

	"github.com/whisper/instant-messaging/internal/protocol"
)

// ChatHandle scopes sends and subscriptions to one chat.
type ChatHandle struct {
	client *Client
	chatID ID
}

// ChatID returns the chat the handle is scoped to.
func (h *ChatHandle) ChatID() ID { return h.chatID }

// SendMessage posts content to the chat. The handle of an empty chat id
// does nothing. Content must be non-empty, fit one frame and stay within
// Config.MaxMessageRunes.
func (h *ChatHandle) SendMessage(ctx context.Context, content string) error {
	if h.chatID.IsZero() {
		return nil
	}
	if err := h.client.limits.Check(content); err != nil {
		return err
	}
	return h.client.emit(ctx, protocol.EventMessage, protocol.SendMessagePayload{
		Content: content,
		ChatID:  h.chatID,
	})
}

// SendTyping tells the other participants the user is typing. The handle of
// an empty chat id does nothing.
func (h *ChatHandle) SendTyping(ctx context.Context) error {
	if h.chatID.IsZero() {
		return nil
	}
	return h.client.emit(ctx, protocol.EventTyping, protocol.SendTypingPayload{ChatID: h.chatID})
}

// On subscribes handler to kind within this chat. Unknown kinds yield nil.
func (h *ChatHandle) On(kind Kind, handler Handler) *Subscription {
	return h.client.registry.Subscribe(kind, h.chatID, handler)
}

// OnMessage subscribes to direction-tagged messages.
func (h *ChatHandle) OnMessage(fn func(Message)) *Subscription {
	return h.On(KindMessage, func(ev Event) {
		if m, ok := ev.(MessageEvent); ok {
			fn(m.Message)
		}
	})
}

// OnTyping subscribes to typing signals; fn receives the typist's username.
func (h *ChatHandle) OnTyping(fn func(username string)) *Subscription {
	return h.On(KindTyping, func(ev Event) {
		if t, ok := ev.(TypingEvent); ok {
			fn(t.Typing.Username)
		}
	})
}

// OnTypingEnd subscribes to the end of typing bursts.
func (h *ChatHandle) OnTypingEnd(fn func()) *Subscription {
	return h.On(KindTypingEnd, func(Event) { fn() })
}

// Unsubscribe drops every subscription of kind scoped to this chat,
// including ones registered through other handles for the same chat.
func (h *ChatHandle) Unsubscribe(kind Kind) {
	h.client.registry.UnsubscribeChat(kind, h.chatID)
}
