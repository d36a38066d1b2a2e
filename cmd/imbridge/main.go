// Command imbridge logs a bot user into the messaging backend and bridges it
// to NATS: realtime events are published per chat, send requests are read
// from the outbox subject, Redis throttles sends, and Postgres optionally
// archives messages.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/whisper/instant-messaging/internal/archive"
	"github.com/whisper/instant-messaging/internal/bridge"
	"github.com/whisper/instant-messaging/internal/config"
	"github.com/whisper/instant-messaging/internal/messaging"
	"github.com/whisper/instant-messaging/internal/moderation"
	"github.com/whisper/instant-messaging/internal/ratelimit"
	"github.com/whisper/instant-messaging/messenger"
)

func main() {
	cfg, err := config.Load(os.Getenv("IM_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := config.SetupLogging(cfg.LogLevel, os.Stderr, false); err != nil {
		log.Fatal().Err(err).Msg("setup logging")
	}
	if cfg.Client.Username == "" {
		log.Fatal().Msg("IM_USERNAME (client.username) is required")
	}

	log.Info().Msg("starting imbridge")

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Bridge.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatal().Err(err).Str("addr", cfg.Bridge.RedisAddr).Msg("failed to connect to Redis")
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.Bridge.NATSURL
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}

	opts := bridge.Options{Limiter: ratelimit.NewLimiter(rdb)}
	if cfg.Bridge.ScreenContent {
		opts.Screen = moderation.NewScreen(cfg.Bridge.BlockedTerms)
	}
	for _, id := range cfg.Bridge.ChatIDs {
		opts.ChatIDs = append(opts.ChatIDs, messenger.ID(id))
	}

	// Postgres archive, when configured.
	if cfg.Bridge.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := archive.Open(ctx, cfg.Bridge.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Postgres")
		}
		defer db.Close()
		if err := archive.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate archive schema")
		}
		opts.Archiver = archive.NewStore(db)
	}

	// Bot login.
	client, err := messenger.New(cfg.Client.Messenger())
	if err != nil {
		log.Fatal().Err(err).Msg("build client")
	}
	ctx, cancel = context.WithTimeout(context.Background(), cfg.Client.RequestTimeout)
	userID, err := client.LogIn(ctx, cfg.Client.Username)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("username", cfg.Client.Username).Msg("bot login failed")
	}

	svc := bridge.NewService(client, natsClient, opts)
	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start bridge")
	}

	status := bridge.NewStatusServer(cfg.Bridge.HTTPAddr, client, natsClient)
	go func() {
		if err := status.Start(); err != nil {
			log.Fatal().Err(err).Msg("status server")
		}
	}()

	log.Info().
		Str("user_id", userID.String()).
		Str("bridge", svc.ID()).
		Str("api_url", client.APIURL()).
		Str("redis_addr", cfg.Bridge.RedisAddr).
		Str("nats_url", natsConfig.URL).
		Bool("archive", opts.Archiver != nil).
		Bool("screen", opts.Screen != nil).
		Str("http_addr", cfg.Bridge.HTTPAddr).
		Msg("imbridge running")

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	svc.Stop()
	client.LogOut()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := status.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("status server shutdown")
	}
	cancel()

	natsClient.Close()
	_ = rdb.Close()
}
