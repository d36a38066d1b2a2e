package messenger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/instant-messaging/internal/protocol"
	"github.com/whisper/instant-messaging/internal/realtime/rttest"
)

// relay plays the backend's realtime role: messages go to every participant,
// typing signals to everyone but the typist.
func relay(srv *rttest.Server, participants map[string]string) {
	for r := range srv.Received() {
		switch r.Event {
		case protocol.EventMessage:
			var in protocol.SendMessagePayload
			if json.Unmarshal(r.Payload, &in) != nil {
				continue
			}
			out := map[string]interface{}{
				"chat":    map[string]string{"id": in.ChatID.String()},
				"user":    map[string]string{"id": r.UserID, "username": participants[r.UserID]},
				"content": in.Content,
			}
			for id := range participants {
				_ = srv.Send(id, protocol.EventMessage, out)
			}
		case protocol.EventTyping:
			var in protocol.SendTypingPayload
			if json.Unmarshal(r.Payload, &in) != nil {
				continue
			}
			for id := range participants {
				if id != r.UserID {
					_ = srv.Send(id, protocol.EventTyping, protocol.TypingPayload{ChatID: in.ChatID, Username: participants[r.UserID]})
				}
			}
		}
	}
}

func TestEndToEnd_SocketIO(t *testing.T) {
	backend := newFakeBackend(t, "alice", "bob")
	srv := rttest.NewServer(protocol.SocketIOCodec{})
	defer srv.Close()
	go relay(srv, map[string]string{"u-alice": "alice", "u-bob": "bob"})

	newClient := func() *Client {
		c, err := New(Config{
			APIURL:        backend.url(),
			RealtimeURL:   srv.URL(),
			Protocol:      protocol.CodecSocketIO,
			TypingTimeout: 50 * time.Millisecond,
		})
		require.NoError(t, err)
		t.Cleanup(c.LogOut)
		return c
	}
	alice, bob := newClient(), newClient()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := alice.LogIn(ctx, "alice")
	require.NoError(t, err)
	_, err = bob.LogIn(ctx, "bob")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Connected("u-alice") && srv.Connected("u-bob") }, 2*time.Second, 5*time.Millisecond)

	var aliceLog, bobLog eventLog
	alice.Socket("c1").OnMessage(func(m Message) { aliceLog.add(string(m.Direction) + ":" + m.Content) })
	bobRoom := bob.Socket("c1")
	bobRoom.OnMessage(func(m Message) { bobLog.add(string(m.Direction) + ":" + m.Content) })
	bobRoom.OnTyping(func(username string) { bobLog.add("typing:" + username) })
	bobRoom.OnTypingEnd(func() { bobLog.add("typingEnd") })

	aliceRoom := alice.Socket("c1")
	require.NoError(t, aliceRoom.SendTyping(ctx))
	require.NoError(t, aliceRoom.SendTyping(ctx))
	require.Eventually(t, func() bool { return bobLog.len() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"typing:alice", "typing:alice", "typingEnd"}, bobLog.all())

	require.NoError(t, aliceRoom.SendMessage(ctx, "hi"))
	require.Eventually(t, func() bool { return aliceLog.len() == 1 && bobLog.len() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tx:hi"}, aliceLog.all())
	assert.Equal(t, "rx:hi", bobLog.all()[3])
	assert.Len(t, bob.Recent("c1"), 1)

	bob.LogOut()
	require.Eventually(t, func() bool { return !srv.Connected("u-bob") }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, aliceRoom.SendMessage(ctx, "anyone?"))
	require.Eventually(t, func() bool { return aliceLog.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, bobLog.len())
}
