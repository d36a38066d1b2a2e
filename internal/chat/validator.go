// Package chat holds client-side chat state that outlives a single event:
// the recent-message buffer and outbound content validation.
package chat

import (
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
)

// ErrInvalidContent is wrapped by every Limits.Check failure.
var ErrInvalidContent = errors.New("chat: invalid message content")

// Limits bounds outbound message text. A zero field disables that bound;
// empty text and invalid UTF-8 are always refused.
type Limits struct {
	MaxBytes int
	MaxRunes int
}

// DefaultLimits is one realtime frame and MaxTextChars characters.
var DefaultLimits = Limits{MaxBytes: MaxMessageBytes, MaxRunes: MaxTextChars}

// Check reports whether text may be emitted.
func (l Limits) Check(text string) error {
	if len(text) == 0 {
		return errors.Wrap(ErrInvalidContent, "message text is empty")
	}
	if l.MaxBytes > 0 && len(text) > l.MaxBytes {
		return errors.Wrapf(ErrInvalidContent, "message exceeds %d byte limit", l.MaxBytes)
	}
	if !utf8.ValidString(text) {
		return errors.Wrap(ErrInvalidContent, "message contains invalid UTF-8")
	}
	if l.MaxRunes > 0 && utf8.RuneCountInString(text) > l.MaxRunes {
		return errors.Wrapf(ErrInvalidContent, "message exceeds %d character limit", l.MaxRunes)
	}
	return nil
}
