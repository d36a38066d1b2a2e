package messenger

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/whisper/instant-messaging/internal/chat"
	"github.com/whisper/instant-messaging/internal/events"
	"github.com/whisper/instant-messaging/internal/protocol"
	"github.com/whisper/instant-messaging/internal/realtime"
	"github.com/whisper/instant-messaging/internal/rest"
)

// DefaultRealtimeURL is the hosted backend's Socket.IO endpoint.
const DefaultRealtimeURL = "wss://instant-messaging-api.herokuapp.com/socket.io/"

// Config holds client settings. Zero fields take the DefaultConfig value.
type Config struct {
	APIURL          string        // REST root, e.g. https://host/api
	RealtimeURL     string        // realtime endpoint
	Protocol        string        // realtime framing: "socketio" or "json"
	HTTPClient      *http.Client  // nil builds one with RequestTimeout
	RequestTimeout  time.Duration // REST timeout for the default HTTP client
	TypingTimeout   time.Duration // typingEnd delay after the first typing signal
	HistorySize     int           // recent messages kept per chat
	MaxMessageRunes int           // outbound character cap; negative lifts it

	// Clock drives typing countdowns; nil uses the real clock.
	Clock clockwork.Clock
	// Dial opens the realtime channel; nil dials RealtimeURL with Protocol.
	Dial realtime.DialFunc
}

// DefaultConfig returns settings for the hosted backend.
func DefaultConfig() Config {
	api := rest.DefaultConfig()
	return Config{
		APIURL:          api.BaseURL,
		RealtimeURL:     DefaultRealtimeURL,
		Protocol:        protocol.CodecSocketIO,
		RequestTimeout:  api.Timeout,
		TypingTimeout:   events.DefaultTypingTimeout,
		HistorySize:     chat.DefaultBufferSize,
		MaxMessageRunes: chat.MaxTextChars,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.APIURL == "" {
		c.APIURL = d.APIURL
	}
	if c.RealtimeURL == "" {
		c.RealtimeURL = d.RealtimeURL
	}
	if c.Protocol == "" {
		c.Protocol = d.Protocol
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = d.TypingTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.MaxMessageRunes == 0 {
		c.MaxMessageRunes = d.MaxMessageRunes
	}
	return c
}

// limits returns the outbound content bounds for c, which must already
// carry defaults.
func (c Config) limits() chat.Limits {
	l := chat.Limits{MaxBytes: chat.MaxMessageBytes, MaxRunes: c.MaxMessageRunes}
	if l.MaxRunes < 0 {
		l.MaxRunes = 0
	}
	return l
}
