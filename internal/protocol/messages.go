// Package protocol defines the data exchanged with the instant-messaging
// backend: REST resources (users, chats, messages), realtime event payloads,
// and the codecs that frame realtime events on the wire. Every inbound
// payload is decoded into a concrete struct and validated at this boundary.
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Realtime event names
// ---------------------------------------------------------------------------

// Event names used in both directions on the realtime channel.
const (
	EventMessage = "message"
	EventTyping  = "typing"
)

// ErrMalformedPayload is returned (wrapped) when a backend payload cannot be
// decoded or is missing a field the SDK relies on.
var ErrMalformedPayload = errors.New("protocol: malformed payload")

// ---------------------------------------------------------------------------
// Identifiers
// ---------------------------------------------------------------------------

// ID is an opaque backend identifier. The backend may emit identifiers as
// JSON strings or as numbers; both decode to the same textual form so that
// equality checks (direction tagging, chat scoping) are representation-free.
type ID string

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return id == "" }

// UnmarshalJSON accepts a JSON string, a JSON number, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(ErrMalformedPayload, "id: "+err.Error())
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrapf(ErrMalformedPayload, "id: unexpected token %q", string(data))
	}
	*id = ID(n.String())
	return nil
}

// ---------------------------------------------------------------------------
// Direction
// ---------------------------------------------------------------------------

// Direction tells whether a message was sent (tx) or received (rx) by the
// current user.
type Direction string

const (
	DirectionTx Direction = "tx"
	DirectionRx Direction = "rx"
)

// DirectionFor returns tx when sender equals self and rx otherwise.
func DirectionFor(sender, self ID) Direction {
	if !self.IsZero() && sender == self {
		return DirectionTx
	}
	return DirectionRx
}

// ---------------------------------------------------------------------------
// REST resources
// ---------------------------------------------------------------------------

// UserRef is the compact user reference embedded in messages and chats.
type UserRef struct {
	ID       ID     `json:"id"`
	Username string `json:"username,omitempty"`
}

// ChatRef is the compact chat reference embedded in messages.
type ChatRef struct {
	ID ID `json:"id"`
}

// User is a backend user as returned by login, sign-up and search.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
}

// Message is a chat message as delivered by the realtime channel or the
// history endpoint. Raw holds the backend object verbatim so fields the SDK
// does not model are not lost.
type Message struct {
	ID        ID              `json:"id,omitempty"`
	Chat      ChatRef         `json:"chat"`
	User      UserRef         `json:"user"`
	Content   string          `json:"content"`
	CreatedAt string          `json:"createdAt,omitempty"`
	Direction Direction       `json:"direction,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the modelled fields and keeps a copy of the input.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Message(p)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the backend object from Raw with direction merged in,
// so fields the SDK does not model survive a round trip. Without Raw, or
// when Raw is not an object, only the modelled fields are written.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if len(m.Raw) == 0 {
		return json.Marshal(plain(m))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &fields); err != nil || fields == nil {
		return json.Marshal(plain(m))
	}
	if m.Direction != "" {
		dir, err := json.Marshal(m.Direction)
		if err != nil {
			return nil, err
		}
		fields["direction"] = dir
	}
	return json.Marshal(fields)
}

// Validate checks the fields the router depends on.
func (m Message) Validate() error {
	if m.Chat.ID.IsZero() {
		return errors.Wrap(ErrMalformedPayload, "message: missing chat.id")
	}
	if m.User.ID.IsZero() {
		return errors.Wrap(ErrMalformedPayload, "message: missing user.id")
	}
	return nil
}

// WithDirection returns a copy of m tagged relative to self.
func (m Message) WithDirection(self ID) Message {
	m.Direction = DirectionFor(m.User.ID, self)
	return m
}

// Chat is a conversation as returned by chat creation.
type Chat struct {
	ID    ID              `json:"id"`
	Users []UserRef       `json:"users,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the modelled fields and keeps a copy of the input.
func (c *Chat) UnmarshalJSON(data []byte) error {
	type plain Chat
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Chat(p)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ChatSummary is one entry of a user's chat listing.
type ChatSummary struct {
	ID          ID              `json:"id"`
	Users       []UserRef       `json:"users,omitempty"`
	LastMessage *Message        `json:"lastMessage,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the modelled fields and keeps a copy of the input.
func (c *ChatSummary) UnmarshalJSON(data []byte) error {
	type plain ChatSummary
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ChatSummary(p)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// UsernameRequest is the body of login and sign-up calls.
type UsernameRequest struct {
	Username string `json:"username"`
}

// CreateChatRequest is the body of the chat creation call.
type CreateChatRequest struct {
	UserID    ID       `json:"userID"`
	Usernames []string `json:"usernames"`
}

// ErrorResponse is the body the backend returns on non-2xx statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ---------------------------------------------------------------------------
// Realtime payloads
// ---------------------------------------------------------------------------

// TypingPayload is the inbound typing signal relayed by the server.
type TypingPayload struct {
	ChatID   ID     `json:"chatID"`
	Username string `json:"username"`
}

// SendMessagePayload is emitted by the client to post a message.
type SendMessagePayload struct {
	Content string `json:"content"`
	ChatID  ID     `json:"chatID"`
}

// SendTypingPayload is emitted by the client while the user types.
type SendTypingPayload struct {
	ChatID ID `json:"chatID"`
}

// DecodeMessage decodes and validates an inbound message event.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errors.Wrap(ErrMalformedPayload, "message: "+err.Error())
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// DecodeTyping decodes and validates an inbound typing event.
func DecodeTyping(data []byte) (TypingPayload, error) {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return TypingPayload{}, errors.Wrap(ErrMalformedPayload, "typing: "+err.Error())
	}
	if p.ChatID.IsZero() {
		return TypingPayload{}, errors.Wrap(ErrMalformedPayload, "typing: missing chatID")
	}
	return p, nil
}
