package protocol

import (
	"encoding/json"
	"net/url"

	"github.com/pkg/errors"
)

// Engine.IO v4 packet types (first byte of every text frame).
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO v5 packet types (second byte of an Engine.IO message).
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

// SocketIOCodec speaks the Socket.IO protocol over an Engine.IO websocket
// transport, default namespace only. The engine handshake and heartbeat are
// answered through Frame.Reply.
type SocketIOCodec struct{}

// Name implements Codec.
func (SocketIOCodec) Name() string { return CodecSocketIO }

// Query implements Codec.
func (SocketIOCodec) Query() url.Values {
	return url.Values{
		"EIO":       []string{"4"},
		"transport": []string{"websocket"},
	}
}

// Encode produces a `42["event",payload]` frame.
func (SocketIOCodec) Encode(event string, payload interface{}) ([]byte, error) {
	args := []interface{}{event}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrapf(err, "socketio: marshal %q", event)
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

// Decode implements Codec.
func (SocketIOCodec) Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, errors.Wrap(ErrMalformedPayload, "socketio: empty frame")
	}

	switch data[0] {
	case eioOpen:
		// Join the default namespace once the engine session is open.
		return Frame{Reply: []byte{eioMessage, sioConnect}}, nil
	case eioPing:
		return Frame{Reply: []byte{eioPong}}, nil
	case eioClose:
		return Frame{Closed: true}, nil
	case eioPong:
		return Frame{}, nil
	case eioMessage:
	default:
		return Frame{}, errors.Wrapf(ErrMalformedPayload, "socketio: unknown engine packet %q", data[0])
	}

	if len(data) < 2 {
		return Frame{}, errors.Wrap(ErrMalformedPayload, "socketio: truncated packet")
	}

	switch data[1] {
	case sioConnect:
		return Frame{}, nil
	case sioDisconnect:
		return Frame{Closed: true}, nil
	case sioConnectError:
		return Frame{Closed: true}, errors.Errorf("socketio: connect refused: %s", string(data[2:]))
	case sioEvent:
		return decodeEvent(data[2:])
	default:
		// Acks and binary packets are not used by this backend.
		return Frame{}, nil
	}
}

// decodeEvent parses `["event", payload?]`, skipping an optional ack id
// prefix of ASCII digits.
func decodeEvent(body []byte) (Frame, error) {
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	body = body[i:]

	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedPayload, "socketio: event: "+err.Error())
	}
	if len(args) == 0 {
		return Frame{}, errors.Wrap(ErrMalformedPayload, "socketio: event without name")
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil || name == "" {
		return Frame{}, errors.Wrap(ErrMalformedPayload, "socketio: event name is not a string")
	}

	frame := Frame{Event: name}
	if len(args) > 1 {
		frame.Payload = args[1]
	}
	return frame, nil
}
