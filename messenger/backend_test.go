package messenger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/whisper/instant-messaging/internal/protocol"
)

// fakeBackend is an in-memory REST backend with the same routes and error
// shape as the hosted API.
type fakeBackend struct {
	srv *httptest.Server

	mu    sync.Mutex
	users map[string]protocol.ID // username -> id
	chats map[protocol.ID][]protocol.Message
}

func newFakeBackend(t *testing.T, usernames ...string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		users: make(map[string]protocol.ID),
		chats: make(map[protocol.ID][]protocol.Message),
	}
	for _, u := range usernames {
		b.users[u] = protocol.ID("u-" + u)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", b.login)
	mux.HandleFunc("POST /api/users", b.signUp)
	mux.HandleFunc("GET /api/users", b.search)
	mux.HandleFunc("GET /api/users/{id}/chats", b.listChats)
	mux.HandleFunc("GET /api/chats/{id}/messages", b.messages)
	mux.HandleFunc("POST /api/chats", b.createChat)

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) url() string { return b.srv.URL + "/api" }

func (b *fakeBackend) addMessage(chatID protocol.ID, from, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats[chatID] = append(b.chats[chatID], protocol.Message{
		ID:      protocol.ID(fmt.Sprintf("m%d", len(b.chats[chatID])+1)),
		Chat:    protocol.ChatRef{ID: chatID},
		User:    protocol.UserRef{ID: b.users[from], Username: from},
		Content: content,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}

func (b *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var req protocol.UsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "bad request")
		return
	}
	b.mu.Lock()
	id, ok := b.users[req.Username]
	b.mu.Unlock()
	if !ok {
		fail(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, protocol.User{ID: id, Username: req.Username})
}

func (b *fakeBackend) signUp(w http.ResponseWriter, r *http.Request) {
	var req protocol.UsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		fail(w, http.StatusBadRequest, "username required")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.users[req.Username]; ok {
		fail(w, http.StatusConflict, "username taken")
		return
	}
	id := protocol.ID("u-" + req.Username)
	b.users[req.Username] = id
	writeJSON(w, http.StatusCreated, protocol.User{ID: id, Username: req.Username})
}

func (b *fakeBackend) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("username")
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []protocol.User{}
	for name, id := range b.users {
		if strings.Contains(name, q) {
			out = append(out, protocol.User{ID: id, Username: name})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) listChats(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	writeJSON(w, http.StatusOK, []map[string]interface{}{{
		"id":    "c1",
		"users": []map[string]string{{"id": userID}, {"id": "u-bob"}},
	}})
}

func (b *fakeBackend) messages(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	msgs, ok := b.chats[protocol.ID(r.PathValue("id"))]
	b.mu.Unlock()
	if !ok {
		fail(w, http.StatusNotFound, "chat not found")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (b *fakeBackend) createChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "bad request")
		return
	}
	users := []protocol.UserRef{{ID: req.UserID}}
	b.mu.Lock()
	for _, name := range req.Usernames {
		id, ok := b.users[name]
		if !ok {
			b.mu.Unlock()
			fail(w, http.StatusNotFound, "user "+name+" not found")
			return
		}
		users = append(users, protocol.UserRef{ID: id, Username: name})
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": "c-new", "users": users})
}
