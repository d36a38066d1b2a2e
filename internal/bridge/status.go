package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/whisper/instant-messaging/internal/metrics"
	"github.com/whisper/instant-messaging/messenger"
)

// BusStatus reports message bus connectivity. *messaging.NATSClient
// implements it.
type BusStatus interface {
	Connected() bool
}

// StatusServer exposes /metrics and /health for the bridge process.
type StatusServer struct {
	httpServer *http.Server
	client     *messenger.Client
	bus        BusStatus
	startedAt  time.Time
}

// Health is the /health response body.
type Health struct {
	Status   string `json:"status"` // "ok" or "degraded"
	State    string `json:"state"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	API      string `json:"api_url"`
	Channel  bool   `json:"channel_connected"`
	Bus      bool   `json:"bus_connected"`
	Uptime   string `json:"uptime"`
}

// NewStatusServer creates a status server listening on addr. bus may be nil.
func NewStatusServer(addr string, client *messenger.Client, bus BusStatus) *StatusServer {
	s := &StatusServer{
		client:    client,
		bus:       bus,
		startedAt: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the status routes.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start blocks serving HTTP until Shutdown is called.
func (s *StatusServer) Start() error {
	log.Info().Str("component", "bridge").Str("addr", s.httpServer.Addr).Msg("status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "bridge: status server")
	}
	return nil
}

// Shutdown stops the listener, waiting for in-flight requests until ctx ends.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Health reports the current process health.
func (s *StatusServer) Health() Health {
	h := Health{
		State:    s.client.State().String(),
		UserID:   s.client.UserID().String(),
		Username: s.client.Username(),
		API:      s.client.APIURL(),
		Channel:  s.client.Connected(),
		Bus:      s.bus != nil && s.bus.Connected(),
		Uptime:   time.Since(s.startedAt).Round(time.Second).String(),
	}
	h.Status = "ok"
	if s.client.State() != messenger.StateLoggedIn || !h.Channel || !h.Bus {
		h.Status = "degraded"
	}
	return h
}

// handleHealth answers 200 when healthy and 503 otherwise, with a JSON body
// either way.
func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.Health()
	w.Header().Set("Content-Type", "application/json")
	if h.Status == "ok" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}
