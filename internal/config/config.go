// Package config loads settings for the imctl and imbridge binaries:
// built-in defaults, then an optional YAML file, then IM_* environment
// variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/whisper/instant-messaging/internal/protocol"
	"github.com/whisper/instant-messaging/messenger"
)

// Config is the full settings tree.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Client   ClientConfig `yaml:"client"`
	Bridge   BridgeConfig `yaml:"bridge"`
}

// ClientConfig configures the messaging SDK.
type ClientConfig struct {
	APIURL          string        `yaml:"api_url"`
	RealtimeURL     string        `yaml:"realtime_url"`
	Protocol        string        `yaml:"protocol"`
	Username        string        `yaml:"username"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	TypingTimeout   time.Duration `yaml:"typing_timeout"`
	HistorySize     int           `yaml:"history_size"`
	MaxMessageRunes int           `yaml:"max_message_runes"` // negative lifts the cap
}

// BridgeConfig configures the imbridge daemon's infrastructure.
type BridgeConfig struct {
	HTTPAddr      string   `yaml:"http_addr"`
	NATSURL       string   `yaml:"nats_url"`
	RedisAddr     string   `yaml:"redis_addr"`
	DatabaseURL   string   `yaml:"database_url"`   // empty disables the archive
	ChatIDs       []string `yaml:"chat_ids"`       // empty bridges every chat
	ScreenContent bool     `yaml:"screen_content"` // refuse spam-like outbox content
	BlockedTerms  []string `yaml:"blocked_terms"`  // refused when screening
}

// Default returns the built-in settings.
func Default() Config {
	c := messenger.DefaultConfig()
	return Config{
		LogLevel: "info",
		Client: ClientConfig{
			APIURL:          c.APIURL,
			RealtimeURL:     c.RealtimeURL,
			Protocol:        c.Protocol,
			RequestTimeout:  c.RequestTimeout,
			TypingTimeout:   c.TypingTimeout,
			HistorySize:     c.HistorySize,
			MaxMessageRunes: c.MaxMessageRunes,
		},
		Bridge: BridgeConfig{
			HTTPAddr:  ":9090",
			NATSURL:   "nats://localhost:4222",
			RedisAddr: "localhost:6379",
		},
	}
}

// Load returns Default overlaid with the YAML file at path (skipped when
// path is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "config: read %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", path)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from IM_* variables. Unparseable numbers and
// durations are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			}
		}
	}

	list := func(key string, dst *[]string) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}

	str("IM_LOG_LEVEL", &c.LogLevel)

	str("IM_API_URL", &c.Client.APIURL)
	str("IM_REALTIME_URL", &c.Client.RealtimeURL)
	str("IM_PROTOCOL", &c.Client.Protocol)
	str("IM_USERNAME", &c.Client.Username)
	dur("IM_REQUEST_TIMEOUT", &c.Client.RequestTimeout)
	dur("IM_TYPING_TIMEOUT", &c.Client.TypingTimeout)
	if v, ok := lookup("IM_HISTORY_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Client.HistorySize = n
		}
	}
	if v, ok := lookup("IM_MAX_MESSAGE_RUNES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Client.MaxMessageRunes = n
		}
	}

	str("IM_HTTP_ADDR", &c.Bridge.HTTPAddr)
	str("IM_NATS_URL", &c.Bridge.NATSURL)
	str("IM_REDIS_ADDR", &c.Bridge.RedisAddr)
	str("IM_DATABASE_URL", &c.Bridge.DatabaseURL)
	list("IM_CHAT_IDS", &c.Bridge.ChatIDs)
	list("IM_BLOCKED_TERMS", &c.Bridge.BlockedTerms)
	if v, ok := lookup("IM_SCREEN_CONTENT"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Bridge.ScreenContent = b
		}
	}
}

// Validate rejects settings the binaries cannot start with.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "config: log_level")
	}
	if c.Client.APIURL == "" {
		return errors.New("config: client.api_url is required")
	}
	if c.Client.RealtimeURL == "" {
		return errors.New("config: client.realtime_url is required")
	}
	switch c.Client.Protocol {
	case protocol.CodecEnvelope, protocol.CodecSocketIO:
	default:
		return errors.Errorf("config: unknown client.protocol %q", c.Client.Protocol)
	}
	return nil
}

// Messenger converts the client section into a messenger.Config.
func (c ClientConfig) Messenger() messenger.Config {
	return messenger.Config{
		APIURL:          c.APIURL,
		RealtimeURL:     c.RealtimeURL,
		Protocol:        c.Protocol,
		RequestTimeout:  c.RequestTimeout,
		TypingTimeout:   c.TypingTimeout,
		HistorySize:     c.HistorySize,
		MaxMessageRunes: c.MaxMessageRunes,
	}
}
