package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/instant-messaging/internal/protocol"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "socketio", cfg.Client.Protocol)
	assert.Equal(t, 3*time.Second, cfg.Client.TypingTimeout)
	assert.Equal(t, 50, cfg.Client.HistorySize)
	assert.Empty(t, cfg.Bridge.DatabaseURL)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "im.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
client:
  api_url: http://localhost:3000/api
  protocol: json
  typing_timeout: 1500ms
bridge:
  chat_ids: [c1, c2]
  database_url: postgres://im@localhost/im?sslmode=disable
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://localhost:3000/api", cfg.Client.APIURL)
	assert.Equal(t, "json", cfg.Client.Protocol)
	assert.Equal(t, 1500*time.Millisecond, cfg.Client.TypingTimeout)
	assert.Equal(t, []string{"c1", "c2"}, cfg.Bridge.ChatIDs)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Client.RealtimeURL, cfg.Client.RealtimeURL)
	assert.Equal(t, ":9090", cfg.Bridge.HTTPAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envFrom(map[string]string{
		"IM_API_URL":           "http://api.test/api",
		"IM_PROTOCOL":          "json",
		"IM_USERNAME":          "bot",
		"IM_TYPING_TIMEOUT":    "250ms",
		"IM_HISTORY_SIZE":      "10",
		"IM_MAX_MESSAGE_RUNES": "-1",
		"IM_CHAT_IDS":          " c1, ,c2 ",
		"IM_NATS_URL":          "nats://nats:4222",
		"IM_SCREEN_CONTENT":    "true",
		"IM_BLOCKED_TERMS":     "spam,  scam ",
	}))

	assert.Equal(t, "http://api.test/api", cfg.Client.APIURL)
	assert.Equal(t, "json", cfg.Client.Protocol)
	assert.Equal(t, "bot", cfg.Client.Username)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.TypingTimeout)
	assert.Equal(t, 10, cfg.Client.HistorySize)
	assert.Equal(t, -1, cfg.Client.MaxMessageRunes)
	assert.Equal(t, []string{"c1", "c2"}, cfg.Bridge.ChatIDs)
	assert.Equal(t, "nats://nats:4222", cfg.Bridge.NATSURL)
	assert.True(t, cfg.Bridge.ScreenContent)
	assert.Equal(t, []string{"spam", "scam"}, cfg.Bridge.BlockedTerms)
}

func TestApplyEnv_IgnoresGarbage(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envFrom(map[string]string{
		"IM_TYPING_TIMEOUT":    "soon",
		"IM_HISTORY_SIZE":      "-4",
		"IM_API_URL":           "",
		"IM_SCREEN_CONTENT":    "maybe",
		"IM_MAX_MESSAGE_RUNES": "lots",
	}))

	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Client.Protocol = "mqtt"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.LogLevel = "loud"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Client.APIURL = ""
	assert.Error(t, cfg.Validate())

	for _, name := range []string{protocol.CodecEnvelope, protocol.CodecSocketIO} {
		cfg = Default()
		cfg.Client.Protocol = name
		assert.NoError(t, cfg.Validate(), name)
	}
}

func TestMessenger(t *testing.T) {
	cfg := Default()
	cfg.Client.TypingTimeout = time.Second
	cfg.Client.MaxMessageRunes = 280

	m := cfg.Client.Messenger()
	assert.Equal(t, cfg.Client.APIURL, m.APIURL)
	assert.Equal(t, time.Second, m.TypingTimeout)
	assert.Equal(t, 280, m.MaxMessageRunes)
	assert.Nil(t, m.Dial)
}

// ---------------------------------------------------------------------------
// SetupLogging
// ---------------------------------------------------------------------------

func TestSetupLogging(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	require.NoError(t, SetupLogging("warn", &buf, false))
	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"test"`)
	assert.Contains(t, out, `"message":"shown"`)

	assert.Error(t, SetupLogging("loud", &buf, false))
}
