package messaging

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// NATS subjects used by the bridge.
const (
	SubjectChatPrefix = "im.chat"   // + .<chat_id>.<kind>
	SubjectOutbox     = "im.outbox" // outbound send requests
)

// ChatSubject returns the subject events of kind in chatID are published
// on. Characters NATS treats as token separators or wildcards are replaced.
func ChatSubject(chatID, kind string) string {
	return SubjectChatPrefix + "." + subjectToken(chatID) + "." + subjectToken(kind)
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// ChatEvent is the payload published to im.chat.<chat_id>.<kind> subjects.
type ChatEvent struct {
	Kind     string          `json:"kind"`               // "message", "typing", "typingEnd"
	ChatID   string          `json:"chat_id"`            // backend chat id
	Username string          `json:"username,omitempty"` // typist, for typing events
	Message  json.RawMessage `json:"message,omitempty"`  // direction-tagged message object
	Bridge   string          `json:"bridge"`             // publishing bridge instance
	Ts       int64           `json:"ts"`                 // unix millis at publish time
}

// OutboxRequest is consumed from im.outbox: either a message to post or a
// typing signal.
type OutboxRequest struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content,omitempty"`
	Typing  bool   `json:"typing,omitempty"`
}

// ErrBadOutboxRequest is wrapped by DecodeOutbox failures.
var ErrBadOutboxRequest = errors.New("messaging: bad outbox request")

// DecodeOutbox parses and checks one outbox request.
func DecodeOutbox(data []byte) (OutboxRequest, error) {
	var req OutboxRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return OutboxRequest{}, errors.Wrap(ErrBadOutboxRequest, err.Error())
	}
	if req.ChatID == "" {
		return OutboxRequest{}, errors.Wrap(ErrBadOutboxRequest, "missing chat_id")
	}
	if req.Typing == (req.Content != "") {
		return OutboxRequest{}, errors.Wrap(ErrBadOutboxRequest, "exactly one of content or typing is required")
	}
	return req, nil
}
