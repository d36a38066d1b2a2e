package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/whisper/instant-messaging/internal/protocol"
)

// Login authenticates an existing user by name.
func (c *Client) Login(ctx context.Context, username string) (protocol.User, error) {
	return c.identify(ctx, "/login", username)
}

// SignUp registers a new user.
func (c *Client) SignUp(ctx context.Context, username string) (protocol.User, error) {
	return c.identify(ctx, "/users", username)
}

func (c *Client) identify(ctx context.Context, path, username string) (protocol.User, error) {
	var user protocol.User
	if err := c.Do(ctx, http.MethodPost, path, protocol.UsernameRequest{Username: username}, &user); err != nil {
		return protocol.User{}, err
	}
	if user.ID.IsZero() {
		return protocol.User{}, errors.Wrapf(protocol.ErrMalformedPayload, "rest: POST %s: response has no id", path)
	}
	if user.Username == "" {
		user.Username = username
	}
	return user, nil
}

// Chats lists the chats userID takes part in.
func (c *Client) Chats(ctx context.Context, userID protocol.ID) ([]protocol.ChatSummary, error) {
	var chats []protocol.ChatSummary
	if err := c.Do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID.String())+"/chats", nil, &chats); err != nil {
		return nil, err
	}
	if chats == nil {
		chats = []protocol.ChatSummary{}
	}
	return chats, nil
}

// Messages returns a chat's history, untagged.
func (c *Client) Messages(ctx context.Context, chatID protocol.ID) ([]protocol.Message, error) {
	var msgs []protocol.Message
	if err := c.Do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID.String())+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	return msgs, nil
}

// CreateChat opens a chat between userID and usernames.
func (c *Client) CreateChat(ctx context.Context, userID protocol.ID, usernames []string) (protocol.Chat, error) {
	if usernames == nil {
		usernames = []string{}
	}
	var chat protocol.Chat
	body := protocol.CreateChatRequest{UserID: userID, Usernames: usernames}
	if err := c.Do(ctx, http.MethodPost, "/chats", body, &chat); err != nil {
		return protocol.Chat{}, err
	}
	return chat, nil
}

// SearchUsers finds users by name. The query is URL-escaped.
func (c *Client) SearchUsers(ctx context.Context, username string) ([]protocol.User, error) {
	var users []protocol.User
	q := url.Values{"username": []string{username}}
	if err := c.Do(ctx, http.MethodGet, "/users?"+q.Encode(), nil, &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = []protocol.User{}
	}
	return users, nil
}
