package chat

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestLimits_Default(t *testing.T) {
	cases := []struct {
		name string
		text string
		ok   bool
	}{
		{"plain", "hello", true},
		{"unicode", "héllo wörld 👋", true},
		{"at char limit", strings.Repeat("a", MaxTextChars), true},
		{"empty", "", false},
		{"too many chars", strings.Repeat("a", MaxTextChars+1), false},
		// 1400 three-byte runes: under the char limit, over the byte limit.
		{"too many bytes", strings.Repeat("€", 1400), false},
		{"invalid utf8", "ab\xffcd", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := DefaultLimits.Check(tc.text)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidContent), "got %v", err)
		})
	}
}

func TestLimits_Custom(t *testing.T) {
	short := Limits{MaxBytes: MaxMessageBytes, MaxRunes: 5}
	assert.NoError(t, short.Check("héllo"))
	assert.True(t, errors.Is(short.Check("hello!"), ErrInvalidContent))

	// No rune cap: only the frame size bounds the text.
	open := Limits{MaxBytes: MaxMessageBytes}
	assert.NoError(t, open.Check(strings.Repeat("a", MaxTextChars+1)))
	assert.Error(t, open.Check(strings.Repeat("a", MaxMessageBytes+1)))

	// Empty text is refused whatever the limits.
	assert.Error(t, Limits{}.Check(""))
}
