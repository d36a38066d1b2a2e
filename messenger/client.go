// Package messenger is the client SDK for the instant-messaging backend.
//
// A Client logs a user in over REST, opens one realtime channel for the
// session, and routes inbound events to per-chat subscribers:
//
//	c, err := messenger.New(messenger.DefaultConfig())
//	if err != nil { ... }
//	if _, err := c.LogIn(ctx, "alice"); err != nil { ... }
//	defer c.LogOut()
//
//	room := c.Socket(chatID)
//	room.OnMessage(func(m messenger.Message) { fmt.Println(m.Direction, m.Content) })
//	room.OnTypingEnd(func() { ... })
//	_ = room.SendMessage(ctx, "hi")
//
// Handlers run on the channel's read goroutine or on a timer goroutine and
// must not block for long.
package messenger

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/whisper/instant-messaging/internal/chat"
	"github.com/whisper/instant-messaging/internal/events"
	"github.com/whisper/instant-messaging/internal/metrics"
	"github.com/whisper/instant-messaging/internal/protocol"
	"github.com/whisper/instant-messaging/internal/realtime"
	"github.com/whisper/instant-messaging/internal/rest"
	"github.com/whisper/instant-messaging/internal/session"
)

// ErrNotLoggedIn is returned by operations that need a logged-in user or an
// open channel.
var ErrNotLoggedIn = errors.New("messenger: not logged in")

// Client is one user's connection to the backend. It is safe for concurrent
// use; several Clients may coexist in a process.
type Client struct {
	api      *rest.Client
	dial     realtime.DialFunc
	session  *session.Session
	registry *events.Registry
	typing   *events.Debouncer
	history  *chat.Buffer
	limits   chat.Limits
}

// New builds a logged-out Client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	dial := cfg.Dial
	if dial == nil {
		codec, err := protocol.NewCodec(cfg.Protocol)
		if err != nil {
			return nil, err
		}
		dial = realtime.NewDialer(realtime.Config{
			URL:   cfg.RealtimeURL,
			Codec: codec,
			OnClose: func(err error) {
				if err != nil {
					log.Warn().Err(err).Str("component", "messenger").Msg("realtime channel lost")
				}
			},
		})
	}

	c := &Client{
		api: rest.NewClient(rest.Config{
			BaseURL:    cfg.APIURL,
			HTTPClient: cfg.HTTPClient,
			Timeout:    cfg.RequestTimeout,
		}),
		dial:     dial,
		session:  session.New(),
		registry: events.NewRegistry(),
		history:  chat.NewBuffer(cfg.HistorySize),
		limits:   cfg.limits(),
	}
	c.typing = events.NewDebouncer(cfg.Clock, cfg.TypingTimeout, func(ev events.TypingEndEvent, live func() bool) {
		c.registry.DispatchIf(ev, live)
	})
	return c, nil
}

// LogIn authenticates username, opens the realtime channel and returns the
// user's id. It fails with ErrAlreadyLoggedIn unless the client is logged
// out; on any failure the client stays logged out.
func (c *Client) LogIn(ctx context.Context, username string) (ID, error) {
	user, err := c.authenticate(ctx, username, c.api.Login)
	return user.ID, err
}

// SignUp registers username and logs the new user in, exactly like LogIn.
func (c *Client) SignUp(ctx context.Context, username string) error {
	_, err := c.authenticate(ctx, username, c.api.SignUp)
	return err
}

func (c *Client) authenticate(ctx context.Context, username string, call func(context.Context, string) (protocol.User, error)) (protocol.User, error) {
	attempt, err := c.session.Begin()
	if err != nil {
		return protocol.User{}, err
	}

	user, err := call(ctx, username)
	if err != nil {
		c.session.Abort(attempt)
		return protocol.User{}, err
	}
	user.Username = username

	t, err := c.dial(ctx, user.ID, c.handlers(attempt, user.ID))
	if err != nil {
		c.session.Abort(attempt)
		return protocol.User{}, errors.Wrap(err, "messenger: open realtime channel")
	}

	if err := c.session.Establish(attempt, session.Identity{UserID: user.ID, Username: username}, t); err != nil {
		_ = t.Close()
		return protocol.User{}, err
	}

	log.Info().
		Str("component", "messenger").
		Str("user_id", user.ID.String()).
		Str("username", username).
		Msg("logged in")
	return user, nil
}

// handlers binds the inbound realtime events of one login attempt. Dispatch
// re-checks the attempt under the registry lock, and typing countdowns are
// tied to the debouncer generation seen here, so a LogOut racing a frame
// never leaks it into the next session.
func (c *Client) handlers(attempt session.Attempt, self protocol.ID) realtime.Handlers {
	gen := c.typing.Generation()
	current := func() bool { return c.session.Current(attempt) }
	return realtime.Handlers{
		protocol.EventMessage: func(raw json.RawMessage) {
			if !c.session.Current(attempt) {
				return
			}
			m, err := protocol.DecodeMessage(raw)
			if err != nil {
				dropMalformed(protocol.EventMessage, err)
				return
			}
			m = m.WithDirection(self)
			c.history.Add(m)
			c.registry.DispatchIf(events.MessageEvent{Message: m}, current)
		},
		protocol.EventTyping: func(raw json.RawMessage) {
			if !c.session.Current(attempt) {
				return
			}
			p, err := protocol.DecodeTyping(raw)
			if err != nil {
				dropMalformed(protocol.EventTyping, err)
				return
			}
			c.registry.DispatchIf(events.TypingEvent{Typing: p}, current)
			c.typing.Signal(p.ChatID, gen)
		},
	}
}

func dropMalformed(event string, err error) {
	metrics.MalformedTotal.WithLabelValues(event).Inc()
	log.Warn().Err(err).Str("component", "messenger").Str("event", event).Msg("dropping malformed payload")
}

// LogOut closes the channel, cancels pending typing countdowns, drops every
// subscription and the message history, and forgets the user. It never
// fails; calling it while logged out is harmless.
func (c *Client) LogOut() {
	id := c.session.Identity()
	t := c.session.End()

	c.typing.Stop()
	c.registry.Clear()
	c.history.Reset()

	if t != nil {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("component", "messenger").Msg("closing realtime channel")
		}
	}
	if !id.UserID.IsZero() {
		log.Info().Str("component", "messenger").Str("user_id", id.UserID.String()).Msg("logged out")
	}
}

// Chats lists the current user's chats.
func (c *Client) Chats(ctx context.Context) ([]ChatSummary, error) {
	id := c.session.Identity()
	if id.UserID.IsZero() {
		return nil, ErrNotLoggedIn
	}
	return c.api.Chats(ctx, id.UserID)
}

// Messages fetches a chat's history, each message tagged with its direction
// relative to the current user.
func (c *Client) Messages(ctx context.Context, chatID ID) ([]Message, error) {
	msgs, err := c.api.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	self := c.session.Identity().UserID
	for i := range msgs {
		msgs[i] = msgs[i].WithDirection(self)
	}
	return msgs, nil
}

// CreateChat opens a chat between the current user and usernames.
func (c *Client) CreateChat(ctx context.Context, usernames []string) (Chat, error) {
	id := c.session.Identity()
	if id.UserID.IsZero() {
		return Chat{}, ErrNotLoggedIn
	}
	return c.api.CreateChat(ctx, id.UserID, usernames)
}

// SearchUsers finds users by name.
func (c *Client) SearchUsers(ctx context.Context, username string) ([]User, error) {
	return c.api.SearchUsers(ctx, username)
}

// Socket returns a handle scoped to chatID. An empty chatID yields a handle
// whose subscriptions are global and whose sends are no-ops.
func (c *Client) Socket(chatID ID) *ChatHandle {
	return &ChatHandle{client: c, chatID: chatID}
}

// Subscribe registers handler for kind, scoped to chatID (empty for every
// chat). It returns nil for an unknown kind.
func (c *Client) Subscribe(kind Kind, chatID ID, handler Handler) *Subscription {
	return c.registry.Subscribe(kind, chatID, handler)
}

// Recent returns the realtime messages received for chatID during this
// session, oldest first.
func (c *Client) Recent(chatID ID) []Message {
	return c.history.Get(chatID)
}

// UserID returns the logged-in user's id; empty when logged out.
func (c *Client) UserID() ID { return c.session.Identity().UserID }

// Username returns the logged-in user's name; empty when logged out.
func (c *Client) Username() string { return c.session.Identity().Username }

// APIURL returns the REST root requests are sent to.
func (c *Client) APIURL() string { return c.api.BaseURL() }

// Connected reports whether the realtime channel of the current login is
// still open. It turns false when the server or the network drops the
// channel, even though the session stays LoggedIn until LogOut.
func (c *Client) Connected() bool {
	t := c.session.Transport()
	if t == nil {
		return false
	}
	select {
	case <-t.Done():
		return false
	default:
		return true
	}
}

// State returns the login state.
func (c *Client) State() State { return c.session.State() }

// emit sends one event on the open channel.
func (c *Client) emit(ctx context.Context, event string, payload interface{}) error {
	t := c.session.Transport()
	if t == nil {
		return ErrNotLoggedIn
	}
	return t.Emit(ctx, event, payload)
}
