// Package realtime provides the client side of the push channel: a
// websocket connection (gobwas/ws) that frames events with a protocol.Codec,
// answers the codec's control frames, and hands inbound events to handlers
// bound at dial time.
package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/whisper/instant-messaging/internal/metrics"
	"github.com/whisper/instant-messaging/internal/protocol"
)

// closeWriteTimeout bounds the courtesy close frame sent by Close.
const closeWriteTimeout = time.Second

// ErrClosed is returned by Emit once the channel has been closed.
var ErrClosed = errors.New("realtime: channel closed")

// Handler receives the raw payload of one inbound event. Handlers run on the
// connection's read goroutine.
type Handler func(payload json.RawMessage)

// Handlers maps event names to their handler.
type Handlers map[string]Handler

// Transport is an open realtime channel.
type Transport interface {
	// Emit sends one event. It is safe for concurrent use.
	Emit(ctx context.Context, event string, payload interface{}) error
	// Close shuts the channel down. Calling it more than once is harmless.
	Close() error
	// Done is closed once the channel is down, whichever side closed it.
	Done() <-chan struct{}
}

// DialFunc opens a channel for userID with handlers already bound, so no
// frame that arrives before the caller regains control is lost.
type DialFunc func(ctx context.Context, userID protocol.ID, handlers Handlers) (Transport, error)

// Config holds realtime connection settings.
type Config struct {
	URL    string         // ws(s):// or http(s):// endpoint
	Codec  protocol.Codec // framing; nil selects Socket.IO
	Header http.Header    // extra handshake headers

	// OnClose, when set, is called once after the read loop exits. err is
	// nil when the channel was closed locally or by a server close frame.
	OnClose func(err error)
}

// NewDialer returns a DialFunc that connects with cfg.
func NewDialer(cfg Config) DialFunc {
	if cfg.Codec == nil {
		cfg.Codec = protocol.SocketIOCodec{}
	}
	return func(ctx context.Context, userID protocol.ID, handlers Handlers) (Transport, error) {
		return Dial(ctx, cfg, userID, handlers)
	}
}

// Conn is a Transport over a client websocket.
type Conn struct {
	conn     net.Conn
	reader   io.Reader
	codec    protocol.Codec
	handlers Handlers
	onClose  func(error)

	writeMu   sync.Mutex // serializes writes to the connection
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to cfg.URL as userID and starts the read loop.
func Dial(ctx context.Context, cfg Config, userID protocol.ID, handlers Handlers) (*Conn, error) {
	codec := cfg.Codec
	if codec == nil {
		codec = protocol.SocketIOCodec{}
	}

	target, err := endpoint(cfg.URL, userID, codec)
	if err != nil {
		return nil, err
	}

	dialer := ws.Dialer{}
	if len(cfg.Header) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(cfg.Header)
	}

	start := time.Now()
	conn, br, _, err := dialer.Dial(ctx, target)
	if err != nil {
		return nil, errors.Wrapf(err, "realtime: dial %s", cfg.URL)
	}

	// Frames the server sent together with the handshake response are
	// buffered in br.
	var reader io.Reader = conn
	if br != nil {
		reader = io.MultiReader(br, conn)
	}

	c := &Conn{
		conn:     conn,
		reader:   reader,
		codec:    codec,
		handlers: handlers,
		onClose:  cfg.OnClose,
		done:     make(chan struct{}),
	}

	metrics.RealtimeConnections.Inc()
	log.Info().
		Str("component", "realtime").
		Str("user_id", userID.String()).
		Str("codec", codec.Name()).
		Dur("latency", time.Since(start)).
		Msg("channel open")

	go c.readLoop()
	return c, nil
}

// endpoint builds the connection URL: ws scheme, codec query, and userID.
func endpoint(raw string, userID protocol.ID, codec protocol.Codec) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "realtime: parse url %q", raw)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("realtime: unsupported url scheme %q", u.Scheme)
	}

	q := u.Query()
	for k, vs := range codec.Query() {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	q.Set("userID", userID.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Emit encodes and writes one event. A ctx deadline bounds the write.
func (c *Conn) Emit(ctx context.Context, event string, payload interface{}) error {
	data, err := c.codec.Encode(event, payload)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (c *Conn) write(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		select {
		case <-c.done:
			return ErrClosed
		default:
		}
		return errors.Wrap(err, "realtime: write")
	}
	metrics.FramesTotal.WithLabelValues("out").Inc()
	return nil
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		metrics.RealtimeConnections.Dec()

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// Done is closed once the channel is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// readLoop reads frames until the connection is closed, answers control
// frames, and dispatches events. Malformed frames are logged and dropped.
func (c *Conn) readLoop() {
	var loopErr error
	defer func() {
		closedLocally := false
		select {
		case <-c.done:
			closedLocally = true
		default:
		}
		_ = c.Close()
		if closedLocally {
			loopErr = nil
		}
		if c.onClose != nil {
			c.onClose(loopErr)
		}
	}()

	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, &lockedWriter{c}}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) {
				loopErr = errors.Wrap(err, "realtime: read")
			}
			return
		}
		metrics.FramesTotal.WithLabelValues("in").Inc()

		frame, err := c.codec.Decode(data)
		if frame.Reply != nil {
			if werr := c.write(context.Background(), frame.Reply); werr != nil {
				loopErr = werr
				return
			}
		}
		if frame.Closed {
			if err != nil {
				loopErr = err
			}
			return
		}
		if err != nil {
			metrics.MalformedTotal.WithLabelValues("frame").Inc()
			log.Warn().Err(err).Str("component", "realtime").Msg("dropping frame")
			continue
		}
		if frame.Event == "" {
			continue
		}

		handler, ok := c.handlers[frame.Event]
		if !ok {
			log.Debug().Str("component", "realtime").Str("event", frame.Event).Msg("no handler")
			continue
		}
		handler(frame.Payload)
	}
}

// lockedWriter lets wsutil answer pings and close frames while Emit may be
// writing from another goroutine.
type lockedWriter struct{ c *Conn }

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.conn.Write(p)
}

var _ Transport = (*Conn)(nil)
