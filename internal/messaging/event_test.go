package messaging

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatSubject(t *testing.T) {
	assert.Equal(t, "im.chat.c1.message", ChatSubject("c1", "message"))
	assert.Equal(t, "im.chat.42.typingEnd", ChatSubject("42", "typingEnd"))
	assert.Equal(t, "im.chat.a_b_c.typing", ChatSubject("a.b*c", "typing"))
	assert.Equal(t, "im.chat._.message", ChatSubject("", "message"))
}

func TestDecodeOutbox(t *testing.T) {
	req, err := DecodeOutbox([]byte(`{"chat_id":"c1","content":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, OutboxRequest{ChatID: "c1", Content: "hi"}, req)

	req, err = DecodeOutbox([]byte(`{"chat_id":"c1","typing":true}`))
	require.NoError(t, err)
	assert.True(t, req.Typing)

	for _, bad := range []string{
		`not json`,
		`{"content":"hi"}`,
		`{"chat_id":"c1"}`,
		`{"chat_id":"c1","content":"hi","typing":true}`,
	} {
		_, err := DecodeOutbox([]byte(bad))
		assert.True(t, errors.Is(err, ErrBadOutboxRequest), bad)
	}
}

func TestChatEvent_OmitsEmpty(t *testing.T) {
	data, err := json.Marshal(ChatEvent{Kind: "typingEnd", ChatID: "c1", Bridge: "b1", Ts: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"typingEnd","chat_id":"c1","bridge":"b1","ts":5}`, string(data))
}
