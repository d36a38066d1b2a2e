package rttest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/whisper/instant-messaging/internal/protocol"
)

// Received is one event a client emitted to the Server.
type Received struct {
	UserID  string
	Event   string
	Payload json.RawMessage
}

// Server is a websocket backend for tests. It speaks the given codec,
// performs the Socket.IO handshake when that codec is used, records every
// event clients emit, and can push events to connected users.
type Server struct {
	srv      *httptest.Server
	codec    protocol.Codec
	received chan Received

	mu    sync.Mutex
	conns map[string][]*serverConn // userID -> connections
	pongs int
}

type serverConn struct {
	id      string
	userID  string
	conn    net.Conn
	writeMu sync.Mutex
	joined  bool
}

func (c *serverConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerText(c.conn, data)
}

// NewServer starts a server speaking codec (nil selects Socket.IO).
func NewServer(codec protocol.Codec) *Server {
	if codec == nil {
		codec = protocol.SocketIOCodec{}
	}
	s := &Server{
		codec:    codec,
		received: make(chan Received, 256),
		conns:    make(map[string][]*serverConn),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	return s
}

// URL returns the ws:// endpoint of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Received returns the channel of client-emitted events.
func (s *Server) Received() <-chan Received { return s.received }

// Next waits up to timeout for the next emitted event.
func (s *Server) Next(timeout time.Duration) (Received, bool) {
	select {
	case r := <-s.received:
		return r, true
	case <-time.After(timeout):
		return Received{}, false
	}
}

// Connected reports whether userID has a channel that completed the
// handshake.
func (s *Server) Connected(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns[userID] {
		if c.joined {
			return true
		}
	}
	return false
}

// Pongs returns the number of heartbeat replies received.
func (s *Server) Pongs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pongs
}

// Send pushes an event to every channel of userID.
func (s *Server) Send(userID, event string, payload interface{}) error {
	data, err := s.codec.Encode(event, payload)
	if err != nil {
		return err
	}
	return s.SendRaw(userID, data)
}

// SendRaw writes data verbatim to every channel of userID.
func (s *Server) SendRaw(userID string, data []byte) error {
	s.mu.Lock()
	targets := append([]*serverConn(nil), s.conns[userID]...)
	s.mu.Unlock()

	if len(targets) == 0 {
		return errors.Errorf("rttest: user %s not connected", userID)
	}
	for _, c := range targets {
		if err := c.write(data); err != nil {
			return errors.Wrapf(err, "rttest: write to %s", userID)
		}
	}
	return nil
}

// Ping sends an engine heartbeat to every channel of userID.
func (s *Server) Ping(userID string) error {
	return s.SendRaw(userID, []byte{'2'})
}

// Kick starts a close handshake on every channel of userID. The read loop
// tears the connection down once the client answers.
func (s *Server) Kick(userID string) {
	s.mu.Lock()
	targets := append([]*serverConn(nil), s.conns[userID]...)
	s.mu.Unlock()

	for _, c := range targets {
		c.writeMu.Lock()
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()
	}
}

// Close shuts the server and every connection down.
func (s *Server) Close() {
	s.mu.Lock()
	var all []*serverConn
	for _, cs := range s.conns {
		all = append(all, cs...)
	}
	s.conns = make(map[string][]*serverConn)
	s.mu.Unlock()

	for _, c := range all {
		_ = c.conn.Close()
	}
	s.srv.Close()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userID")
	if userID == "" {
		http.Error(w, "missing userID", http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	c := &serverConn{id: uuid.NewString(), userID: userID, conn: conn}
	_, socketIO := s.codec.(protocol.SocketIOCodec)
	if socketIO {
		open, _ := json.Marshal(map[string]interface{}{
			"sid":          c.id,
			"upgrades":     []string{},
			"pingInterval": 25000,
			"pingTimeout":  20000,
			"maxPayload":   1000000,
		})
		if err := c.write(append([]byte{'0'}, open...)); err != nil {
			_ = conn.Close()
			return
		}
	} else {
		c.joined = true
	}

	s.mu.Lock()
	s.conns[userID] = append(s.conns[userID], c)
	s.mu.Unlock()

	go s.readLoop(c, socketIO)
}

func (s *Server) readLoop(c *serverConn, socketIO bool) {
	defer s.remove(c)

	for {
		data, err := wsutil.ReadClientText(c.conn)
		if err != nil {
			return
		}

		if socketIO {
			switch string(data) {
			case "40":
				s.mu.Lock()
				c.joined = true
				s.mu.Unlock()
				_ = c.write([]byte(`40{"sid":"` + c.id + `"}`))
				continue
			case "3":
				s.mu.Lock()
				s.pongs++
				s.mu.Unlock()
				continue
			case "41":
				return
			}
		}

		frame, err := s.codec.Decode(data)
		if err != nil || frame.Event == "" {
			continue
		}
		s.received <- Received{UserID: c.userID, Event: frame.Event, Payload: frame.Payload}
	}
}

func (s *Server) remove(c *serverConn) {
	s.mu.Lock()
	cs := s.conns[c.userID]
	for i, other := range cs {
		if other == c {
			s.conns[c.userID] = append(cs[:i:i], cs[i+1:]...)
			break
		}
	}
	if len(s.conns[c.userID]) == 0 {
		delete(s.conns, c.userID)
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}
