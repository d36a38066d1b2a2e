package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/whisper/instant-messaging/messenger"
)

type identity struct {
	ID       messenger.ID `json:"id"`
	Username string       `json:"username"`
}

func newSignUpCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "signup [username]",
		Short: "Register a user (defaults to --user)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := o.cfg.Client.Username
			if len(args) == 1 {
				username = args[0]
			}
			if username == "" {
				return errors.New("imctl: username is required")
			}
			c, err := o.newClient()
			if err != nil {
				return err
			}
			if err := c.SignUp(cmd.Context(), username); err != nil {
				return err
			}
			defer c.LogOut()
			return printJSON(cmd.OutOrStdout(), identity{ID: c.UserID(), Username: c.Username()})
		},
	}
}

func newLogInCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check that --user can log in and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.loggedIn(cmd.Context())
			if err != nil {
				return err
			}
			defer c.LogOut()
			return printJSON(cmd.OutOrStdout(), identity{ID: c.UserID(), Username: c.Username()})
		},
	}
}

func newChatsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List the user's chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.loggedIn(cmd.Context())
			if err != nil {
				return err
			}
			defer c.LogOut()
			chats, err := c.Chats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), chats)
		},
	}
}

func newMessagesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <chatID>",
		Short: "Print a chat's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.loggedIn(cmd.Context())
			if err != nil {
				return err
			}
			defer c.LogOut()
			msgs, err := c.Messages(cmd.Context(), messenger.ID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), msgs)
		},
	}
}

func newSearchCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find users by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient()
			if err != nil {
				return err
			}
			users, err := c.SearchUsers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), users)
		},
	}
}

func newCreateChatCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create-chat <username>...",
		Short: "Open a chat with one or more users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.loggedIn(cmd.Context())
			if err != nil {
				return err
			}
			defer c.LogOut()
			chat, err := c.CreateChat(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), chat)
		},
	}
}

func newSendCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <chatID> <content>...",
		Short: "Post a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.loggedIn(cmd.Context())
			if err != nil {
				return err
			}
			defer c.LogOut()
			return c.Socket(messenger.ID(args[0])).SendMessage(cmd.Context(), strings.Join(args[1:], " "))
		},
	}
}

func newTypingCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "typing <chatID>",
		Short: "Send a typing signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.loggedIn(cmd.Context())
			if err != nil {
				return err
			}
			defer c.LogOut()
			return c.Socket(messenger.ID(args[0])).SendTyping(cmd.Context())
		},
	}
}

// listenLine is one event printed by listen.
type listenLine struct {
	Time     time.Time          `json:"time"`
	Kind     messenger.Kind     `json:"kind"`
	ChatID   messenger.ID       `json:"chat_id"`
	Username string             `json:"username,omitempty"`
	Message  *messenger.Message `json:"message,omitempty"`
}

func newListenCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "listen [chatID]",
		Short: "Print realtime events as JSON lines until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.loggedIn(cmd.Context())
			if err != nil {
				return err
			}
			defer c.LogOut()

			var chatID messenger.ID
			if len(args) == 1 {
				chatID = messenger.ID(args[0])
			}

			var mu sync.Mutex
			enc := json.NewEncoder(cmd.OutOrStdout())
			emit := func(ev messenger.Event) {
				line := listenLine{Time: time.Now().UTC(), Kind: ev.Kind(), ChatID: ev.ChatID()}
				switch e := ev.(type) {
				case messenger.MessageEvent:
					m := e.Message
					line.Message = &m
				case messenger.TypingEvent:
					line.Username = e.Typing.Username
				}
				mu.Lock()
				defer mu.Unlock()
				_ = enc.Encode(line)
			}
			for _, kind := range []messenger.Kind{messenger.KindMessage, messenger.KindTyping, messenger.KindTypingEnd} {
				c.Subscribe(kind, chatID, emit)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}
