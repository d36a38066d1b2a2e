package protocol

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec(t *testing.T) {
	c, err := NewCodec("json")
	require.NoError(t, err)
	assert.Equal(t, CodecEnvelope, c.Name())

	c, err = NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecSocketIO, c.Name())

	_, err = NewCodec("carrier-pigeon")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Envelope codec
// ---------------------------------------------------------------------------

func TestEnvelopeCodec_EncodeInjectsType(t *testing.T) {
	out, err := EnvelopeCodec{}.Encode(EventMessage, SendMessagePayload{Content: "hello", ChatID: "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","content":"hello","chatID":"c1"}`, string(out))
}

func TestEnvelopeCodec_EncodeRejectsNonObject(t *testing.T) {
	_, err := EnvelopeCodec{}.Encode(EventTyping, []string{"a"})
	assert.Error(t, err)
}

func TestEnvelopeCodec_Decode(t *testing.T) {
	frame, err := EnvelopeCodec{}.Decode([]byte(`{"type":"typing","chatID":"c1","username":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, EventTyping, frame.Event)
	assert.Nil(t, frame.Reply)

	p, err := DecodeTyping(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Username)
}

func TestEnvelopeCodec_DecodeMissingType(t *testing.T) {
	_, err := EnvelopeCodec{}.Decode([]byte(`{"chatID":"c1"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}

// ---------------------------------------------------------------------------
// Socket.IO codec
// ---------------------------------------------------------------------------

func TestSocketIOCodec_Query(t *testing.T) {
	q := SocketIOCodec{}.Query()
	assert.Equal(t, "4", q.Get("EIO"))
	assert.Equal(t, "websocket", q.Get("transport"))
}

func TestSocketIOCodec_Encode(t *testing.T) {
	out, err := SocketIOCodec{}.Encode(EventTyping, SendTypingPayload{ChatID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, `42["typing",{"chatID":"c1"}]`, string(out))
}

func TestSocketIOCodec_Handshake(t *testing.T) {
	codec := SocketIOCodec{}

	frame, err := codec.Decode([]byte(`0{"sid":"abc","pingInterval":25000,"pingTimeout":20000}`))
	require.NoError(t, err)
	assert.Equal(t, "40", string(frame.Reply))
	assert.Empty(t, frame.Event)

	frame, err = codec.Decode([]byte(`40{"sid":"xyz"}`))
	require.NoError(t, err)
	assert.Nil(t, frame.Reply)
	assert.Empty(t, frame.Event)

	frame, err = codec.Decode([]byte(`2`))
	require.NoError(t, err)
	assert.Equal(t, "3", string(frame.Reply))
}

func TestSocketIOCodec_DecodeEvent(t *testing.T) {
	frame, err := SocketIOCodec{}.Decode([]byte(`42["message",{"chat":{"id":"c1"},"user":{"id":"u2"},"content":"hi"}]`))
	require.NoError(t, err)
	assert.Equal(t, EventMessage, frame.Event)

	m, err := DecodeMessage(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Content)
}

func TestSocketIOCodec_DecodeEventWithAckID(t *testing.T) {
	frame, err := SocketIOCodec{}.Decode([]byte(`4217["typing",{"chatID":"c9"}]`))
	require.NoError(t, err)
	assert.Equal(t, EventTyping, frame.Event)

	var p TypingPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	assert.Equal(t, ID("c9"), p.ChatID)
}

func TestSocketIOCodec_Close(t *testing.T) {
	for _, input := range []string{"1", "41"} {
		frame, err := SocketIOCodec{}.Decode([]byte(input))
		require.NoError(t, err, input)
		assert.True(t, frame.Closed, input)
	}

	frame, err := SocketIOCodec{}.Decode([]byte(`44{"message":"unauthorized"}`))
	assert.Error(t, err)
	assert.True(t, frame.Closed)
}

func TestSocketIOCodec_Malformed(t *testing.T) {
	for _, input := range []string{"", "9", "4", `42{"not":"array"}`, `42[]`, `42[7]`} {
		_, err := SocketIOCodec{}.Decode([]byte(input))
		require.Error(t, err, input)
		assert.True(t, errors.Is(err, ErrMalformedPayload), input)
	}
}
