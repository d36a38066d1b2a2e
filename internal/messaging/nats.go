// Package messaging provides a NATS client wrapper for the bridge daemon. It
// handles connection lifecycle and subject-based subscriptions, and carries
// the subjects and payloads the bridge exchanges with other services.
package messaging

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
	Timeout       time.Duration // initial connect timeout
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "imbridge",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
		Timeout:       5 * time.Second,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("component", "nats").Msg("disconnected")
			} else {
				log.Warn().Str("component", "nats").Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("component", "nats").Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Str("component", "nats").Msg("connection closed")
		}),
	}
	if config.Timeout > 0 {
		opts = append(opts, nats.Timeout(config.Timeout))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}

	log.Info().Str("component", "nats").Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return errors.Wrapf(err, "nats subscribe %s", subject)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishEvent publishes a bridged event on im.chat.<chatID>.<kind>.
func (c *NATSClient) PublishEvent(chatID, kind string, data []byte) error {
	return c.Publish(ChatSubject(chatID, kind), data)
}

// SubscribeOutbox subscribes to outbound send requests.
func (c *NATSClient) SubscribeOutbox(handler func(data []byte)) error {
	return c.Subscribe(SubjectOutbox, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeOutbox stops receiving outbound send requests.
func (c *NATSClient) UnsubscribeOutbox() error {
	return c.unsubscribe(SubjectOutbox)
}

// Flush round-trips to the server so earlier publishes are on the wire.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Connected reports whether the connection is currently up.
func (c *NATSClient) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Str("component", "nats").Str("subject", subject).Msg("drain")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warn().Err(err).Str("component", "nats").Msg("connection drain")
	}

	log.Info().Str("component", "nats").Msg("client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return errors.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return errors.Wrapf(err, "nats unsubscribe %s", subject)
	}
	return nil
}
