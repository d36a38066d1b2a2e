package main

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/instant-messaging/internal/archive"
	"github.com/whisper/instant-messaging/internal/protocol"
	"github.com/whisper/instant-messaging/internal/ratelimit"
)

// ---------------------------------------------------------------------------
// archive
// ---------------------------------------------------------------------------

func TestArchive_RequiresDatabaseURL(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "archive", "c1", "--database-url", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database-url")
}

func TestArchive_RejectsBadLimit(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "archive", "c1", "--database-url", "postgres://unused", "-n", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--limit")
}

func TestArchive_PrintsNewestFirst(t *testing.T) {
	dsn := os.Getenv("IM_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("IM_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	db, err := archive.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, archive.Migrate(db))

	chatID := protocol.ID("c-" + uuid.NewString())
	store := archive.NewStore(db)
	for i, content := range []string{"first", "second"} {
		require.NoError(t, store.Save(ctx, protocol.Message{
			ID:        protocol.ID(uuid.NewString()),
			Chat:      protocol.ChatRef{ID: chatID},
			User:      protocol.UserRef{ID: "u-bob", Username: "bob"},
			Content:   content,
			Direction: protocol.DirectionRx,
		}), "message %d", i)
	}

	e := newEnv(t)
	out, err := e.run(t, "archive", chatID.String(), "--database-url", dsn, "-n", "1")
	require.NoError(t, err)

	var got []archive.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Content)
	assert.Equal(t, protocol.DirectionRx, got[0].Direction)
}

// ---------------------------------------------------------------------------
// quota
// ---------------------------------------------------------------------------

func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 500 * time.Millisecond})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	return addr
}

func TestQuota_ReportsAndResets(t *testing.T) {
	addr := redisAddr(t)
	chatID := "c-" + uuid.NewString()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewLimiter(client)
	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(context.Background(), chatID, ratelimit.RuleMessage)
		require.NoError(t, err)
		require.True(t, ok)
	}

	e := newEnv(t)
	out, err := e.run(t, "quota", chatID, "--redis-addr", addr)
	require.NoError(t, err)

	var got []quota
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, quota{ChatID: chatID, Kind: "message", Limit: 5, Remaining: 3, Window: "10s"}, got[0])
	assert.Equal(t, "typing", got[1].Kind)
	assert.Equal(t, ratelimit.RuleTyping.Limit, got[1].Remaining)

	out, err = e.run(t, "quota", chatID, "--redis-addr", addr, "--reset")
	require.NoError(t, err)
	got = nil
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, ratelimit.RuleMessage.Limit, got[0].Remaining)
}

func TestQuota_UnreachableRedis(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "quota", "c1", "--redis-addr", "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to Redis")
}
