package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/whisper/instant-messaging/internal/archive"
	"github.com/whisper/instant-messaging/internal/ratelimit"
	"github.com/whisper/instant-messaging/messenger"
)

// opsTimeout bounds each operator command against the bridge's stores.
const opsTimeout = 5 * time.Second

func newArchiveCmd(o *options) *cobra.Command {
	var (
		dsn   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "archive <chatID>",
		Short: "Print messages imbridge archived for a chat, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("database-url") {
				dsn = o.cfg.Bridge.DatabaseURL
			}
			if dsn == "" {
				return errors.New("imctl: --database-url (bridge.database_url) is required")
			}
			if limit <= 0 {
				return errors.Errorf("imctl: --limit must be positive, got %d", limit)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opsTimeout)
			defer cancel()
			db, err := archive.Open(ctx, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := archive.NewStore(db).Recent(ctx, messenger.ID(args[0]), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&dsn, "database-url", "", "archive Postgres DSN (default bridge.database_url)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of messages")
	return cmd
}

// quota is one rate-limit rule's state for a chat.
type quota struct {
	ChatID    string `json:"chat_id"`
	Kind      string `json:"kind"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Window    string `json:"window"`
}

var quotaRules = []struct {
	kind messenger.Kind
	rule ratelimit.Rule
}{
	{messenger.KindMessage, ratelimit.RuleMessage},
	{messenger.KindTyping, ratelimit.RuleTyping},
}

func newQuotaCmd(o *options) *cobra.Command {
	var (
		addr  string
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "quota <chatID>",
		Short: "Show how many sends imbridge may still relay to a chat in this window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("redis-addr") {
				addr = o.cfg.Bridge.RedisAddr
			}
			chatID := args[0]

			rdb := redis.NewClient(&redis.Options{Addr: addr})
			defer rdb.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opsTimeout)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				return errors.Wrapf(err, "imctl: connect to Redis at %s", addr)
			}

			limiter := ratelimit.NewLimiter(rdb)
			out := make([]quota, 0, len(quotaRules))
			for _, r := range quotaRules {
				if reset {
					if err := limiter.Reset(ctx, chatID, r.rule); err != nil {
						return err
					}
				}
				left, err := limiter.Remaining(ctx, chatID, r.rule)
				if err != nil {
					return err
				}
				out = append(out, quota{
					ChatID:    chatID,
					Kind:      string(r.kind),
					Limit:     r.rule.Limit,
					Remaining: left,
					Window:    r.rule.Window.String(),
				})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&addr, "redis-addr", "", "Redis address (default bridge.redis_addr)")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the chat's counters first")
	return cmd
}
