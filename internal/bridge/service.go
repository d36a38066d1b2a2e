// Package bridge connects a logged-in messenger.Client to backend
// infrastructure: every realtime event is published to NATS, message events
// are optionally archived, and send requests arriving on the outbox subject
// are rate limited and relayed through the client.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/whisper/instant-messaging/internal/chat"
	"github.com/whisper/instant-messaging/internal/events"
	"github.com/whisper/instant-messaging/internal/messaging"
	"github.com/whisper/instant-messaging/internal/metrics"
	"github.com/whisper/instant-messaging/internal/moderation"
	"github.com/whisper/instant-messaging/internal/protocol"
	"github.com/whisper/instant-messaging/internal/ratelimit"
	"github.com/whisper/instant-messaging/messenger"
)

const opTimeout = 5 * time.Second

// Outbound results recorded in metrics.BridgeOutbound.
const (
	resultSent     = "sent"
	resultLimited  = "limited"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

// Publisher carries events out and send requests in. *messaging.NATSClient
// implements it.
type Publisher interface {
	PublishEvent(chatID, kind string, data []byte) error
	SubscribeOutbox(handler func(data []byte)) error
	UnsubscribeOutbox() error
}

// Limiter throttles outbound requests. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Archiver stores realtime messages. *archive.Store implements it.
type Archiver interface {
	Save(ctx context.Context, m protocol.Message) error
}

// Options configures optional collaborators of a Service.
type Options struct {
	Limiter    Limiter            // nil disables rate limiting
	Archiver   Archiver           // nil disables archiving
	Screen     *moderation.Screen // nil relays content unscreened
	ChatIDs    []messenger.ID     // chats to bridge; empty bridges every chat
	InstanceID string             // stamped on published events; generated when empty
	Clock      clockwork.Clock    // publish timestamps; nil uses the real clock
}

// Service is the bridge between one client and the message bus.
type Service struct {
	client  *messenger.Client
	pub     Publisher
	limiter Limiter
	archive Archiver
	screen  *moderation.Screen
	allowed map[messenger.ID]bool
	scopes  []messenger.ID
	id      string
	clock   clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs []*messenger.Subscription
}

// NewService creates a bridge for client, which must already be logged in
// before Start is called.
func NewService(client *messenger.Client, pub Publisher, opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		client:  client,
		pub:     pub,
		limiter: opts.Limiter,
		archive: opts.Archiver,
		screen:  opts.Screen,
		id:      opts.InstanceID,
		clock:   opts.Clock,
		ctx:     ctx,
		cancel:  cancel,
	}
	if s.id == "" {
		s.id = "imbridge-" + uuid.NewString()[:8]
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	if len(opts.ChatIDs) == 0 {
		s.scopes = []messenger.ID{""}
	} else {
		s.allowed = make(map[messenger.ID]bool, len(opts.ChatIDs))
		for _, id := range opts.ChatIDs {
			if !s.allowed[id] {
				s.allowed[id] = true
				s.scopes = append(s.scopes, id)
			}
		}
	}
	return s
}

// ID returns the instance id stamped on published events.
func (s *Service) ID() string { return s.id }

// Start subscribes to client events and to the outbox.
func (s *Service) Start() error {
	s.mu.Lock()
	for _, kind := range events.Kinds {
		for _, chatID := range s.scopes {
			sub := s.client.Subscribe(kind, chatID, s.handleEvent)
			if sub == nil {
				s.mu.Unlock()
				return errors.Errorf("bridge: subscribe %s", kind)
			}
			s.subs = append(s.subs, sub)
		}
	}
	s.mu.Unlock()

	if err := s.pub.SubscribeOutbox(s.handleOutbox); err != nil {
		s.unsubscribeAll()
		return errors.Wrap(err, "bridge: subscribe outbox")
	}

	log.Info().
		Str("component", "bridge").
		Str("bridge", s.id).
		Int("chats", len(s.allowed)).
		Msg("service started")
	return nil
}

// Stop detaches from the client and the outbox. In-flight requests see a
// cancelled context.
func (s *Service) Stop() {
	s.cancel()
	s.unsubscribeAll()
	if err := s.pub.UnsubscribeOutbox(); err != nil {
		log.Warn().Err(err).Str("component", "bridge").Msg("unsubscribe outbox")
	}
	log.Info().Str("component", "bridge").Str("bridge", s.id).Msg("service stopped")
}

func (s *Service) unsubscribeAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// handleEvent runs on the client's dispatch goroutine.
func (s *Service) handleEvent(ev messenger.Event) {
	out := messaging.ChatEvent{
		Kind:   string(ev.Kind()),
		ChatID: ev.ChatID().String(),
		Bridge: s.id,
		Ts:     s.clock.Now().UnixMilli(),
	}

	switch e := ev.(type) {
	case messenger.MessageEvent:
		raw, err := json.Marshal(e.Message)
		if err != nil {
			log.Error().Err(err).Str("component", "bridge").Str("chat_id", out.ChatID).Msg("marshal message")
			return
		}
		out.Message = raw
		s.archiveMessage(e.Message)
	case messenger.TypingEvent:
		out.Username = e.Typing.Username
	}

	data, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Str("component", "bridge").Msg("marshal event")
		return
	}
	if err := s.pub.PublishEvent(out.ChatID, out.Kind, data); err != nil {
		log.Error().Err(err).
			Str("component", "bridge").
			Str("chat_id", out.ChatID).
			Str("event", out.Kind).
			Msg("publish failed")
		return
	}
	metrics.BridgePublished.WithLabelValues(out.Kind).Inc()
}

func (s *Service) archiveMessage(m protocol.Message) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, opTimeout)
	defer cancel()
	if err := s.archive.Save(ctx, m); err != nil {
		log.Error().Err(err).Str("component", "bridge").Str("chat_id", m.Chat.ID.String()).Msg("archive failed")
	}
}

// handleOutbox runs on the bus subscription goroutine.
func (s *Service) handleOutbox(data []byte) {
	req, err := messaging.DecodeOutbox(data)
	if err != nil {
		metrics.BridgeOutbound.WithLabelValues("invalid", resultRejected).Inc()
		log.Warn().Err(err).Str("component", "bridge").Msg("invalid outbox request")
		return
	}

	kind, rule := string(events.KindMessage), ratelimit.RuleMessage
	if req.Typing {
		kind, rule = string(events.KindTyping), ratelimit.RuleTyping
	}
	result := s.send(req, rule)
	metrics.BridgeOutbound.WithLabelValues(kind, result).Inc()

	log.Debug().
		Str("component", "bridge").
		Str("chat_id", req.ChatID).
		Str("event", kind).
		Str("result", result).
		Msg("outbox request")
}

func (s *Service) send(req messaging.OutboxRequest, rule ratelimit.Rule) string {
	chatID := messenger.ID(req.ChatID)
	if s.allowed != nil && !s.allowed[chatID] {
		return resultRejected
	}

	if s.screen != nil && !req.Typing {
		if v := s.screen.Check(req.Content); v.Blocked {
			log.Warn().
				Str("component", "bridge").
				Str("chat_id", req.ChatID).
				Str("reason", v.Reason).
				Str("term", v.Term).
				Msg("screened content")
			return resultRejected
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, opTimeout)
	defer cancel()

	if s.limiter != nil {
		// Allow fails open, so only a definite no throttles.
		if ok, _ := s.limiter.Allow(ctx, req.ChatID, rule); !ok {
			return resultLimited
		}
	}

	var err error
	room := s.client.Socket(chatID)
	if req.Typing {
		err = room.SendTyping(ctx)
	} else {
		err = room.SendMessage(ctx, req.Content)
	}
	switch {
	case err == nil:
		return resultSent
	case errors.Is(err, chat.ErrInvalidContent):
		log.Warn().Err(err).Str("component", "bridge").Str("chat_id", req.ChatID).Msg("rejected content")
		return resultRejected
	default:
		log.Error().Err(err).Str("component", "bridge").Str("chat_id", req.ChatID).Msg("send failed")
		return resultFailed
	}
}
