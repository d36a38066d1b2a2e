package protocol

import (
	"encoding/json"
	"net/url"

	"github.com/pkg/errors"
)

// Frame is one decoded realtime frame. Event is empty for control frames.
// Reply, when non-nil, must be written back to the server verbatim
// (handshake acknowledgements, heartbeats). Closed reports that the server
// ended the channel.
type Frame struct {
	Event   string
	Payload json.RawMessage
	Reply   []byte
	Closed  bool
}

// Codec frames realtime events on a websocket text stream.
type Codec interface {
	// Name identifies the codec in configuration and logs.
	Name() string
	// Query returns extra connection query parameters required by the codec.
	Query() url.Values
	// Encode serialises an outbound event.
	Encode(event string, payload interface{}) ([]byte, error)
	// Decode parses one inbound text frame.
	Decode(data []byte) (Frame, error)
}

// Codec names accepted by NewCodec.
const (
	CodecEnvelope = "json"
	CodecSocketIO = "socketio"
)

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case CodecEnvelope:
		return EnvelopeCodec{}, nil
	case CodecSocketIO, "":
		return SocketIOCodec{}, nil
	default:
		return nil, errors.Errorf("protocol: unknown codec %q", name)
	}
}

// ---------------------------------------------------------------------------
// Envelope codec
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON object for deferred
// decoding into a concrete payload struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the object can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return errors.Wrap(ErrMalformedPayload, "envelope: "+err.Error())
	}
	if partial.Type == "" {
		return errors.Wrap(ErrMalformedPayload, `envelope: missing or empty "type" field`)
	}
	e.Type = partial.Type
	return nil
}

// EnvelopeCodec frames each event as a flat JSON object whose "type" field
// carries the event name, e.g. {"type":"typing","chatID":"c1"}.
type EnvelopeCodec struct{}

// Name implements Codec.
func (EnvelopeCodec) Name() string { return CodecEnvelope }

// Query implements Codec.
func (EnvelopeCodec) Query() url.Values { return url.Values{} }

// Encode marshals payload to an object and injects the "type" field. The
// payload must encode to a JSON object (or null).
func (EnvelopeCodec) Encode(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: marshal payload")
	}

	m := map[string]json.RawMessage{}
	if string(raw) != "null" {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrapf(err, "envelope: payload for %q is not an object", event)
		}
	}

	typ, _ := json.Marshal(event)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: marshal frame")
	}
	return out, nil
}

// Decode implements Codec.
func (EnvelopeCodec) Decode(data []byte) (Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, err
	}
	return Frame{Event: env.Type, Payload: env.Raw}, nil
}
