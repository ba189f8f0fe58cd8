// Package config loads tine settings from an optional file, TINE_*
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/omochice/tine/internal/auth"
	"github.com/omochice/tine/internal/logger"
	"github.com/omochice/tine/internal/transport/ws"
	"github.com/omochice/tine/pkg/protocol"
)

// EnvPrefix prefixes every environment variable, e.g. TINE_AUTH_PASSWORD.
const EnvPrefix = "TINE"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete client configuration.
type Config struct {
	Endpoint string        `mapstructure:"endpoint"`
	Auth     AuthConfig    `mapstructure:"auth"`
	Session  SessionConfig `mapstructure:"session"`
	Log      logger.Config `mapstructure:"log"`
}

// AuthConfig holds the sign-in settings. When Token is set sign-in is skipped.
type AuthConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Email    string        `mapstructure:"email"`
	Password string        `mapstructure:"password"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SessionConfig holds the stream settings.
type SessionConfig struct {
	AuthEvent    string        `mapstructure:"auth_event"`
	PingPayload  string        `mapstructure:"ping_payload"`
	CloseTimeout time.Duration `mapstructure:"close_timeout"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`

	// ReadLimit caps the size of an inbound message in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`

	// Headers are added to the opening handshake request.
	Headers map[string]string `mapstructure:"headers"`
}

// HandshakeHeader returns Headers as an http.Header, or nil when none are set.
func (s SessionConfig) HandshakeHeader() http.Header {
	if len(s.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(s.Headers))
	for k, v := range s.Headers {
		h.Set(k, v)
	}
	return h
}

var defaults = map[string]any{
	"endpoint":              "ws://127.0.0.1:3000",
	"auth.endpoint":         auth.DefaultEndpoint,
	"auth.api_key":          "",
	"auth.email":            "",
	"auth.password":         "",
	"auth.token":            "",
	"auth.timeout":          10 * time.Second,
	"session.auth_event":    protocol.DefaultAuthEvent,
	"session.ping_payload":  "PING",
	"session.close_timeout": 5 * time.Second,
	"session.dial_timeout":  10 * time.Second,
	"session.read_limit":    ws.DefaultReadLimit,
	"log.level":             "info",
	"log.format":            "console",
	"log.file":              "",
	"log.max_size_mb":       100,
	"log.max_backups":       3,
	"log.max_age_days":      28,
	"log.compress":          false,
}

// Load reads the configuration. path may be empty, in which case only
// environment variables and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings needed before connecting. Credentials are not
// checked here because they may still be prompted for.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: endpoint %q must use ws:// or wss://", ErrInvalidConfig, c.Endpoint)
	}
	if c.Auth.Token == "" && c.Auth.APIKey == "" {
		return fmt.Errorf("%w: auth.api_key is required unless auth.token is set", ErrInvalidConfig)
	}
	if c.Session.CloseTimeout < 0 {
		return fmt.Errorf("%w: session.close_timeout must not be negative", ErrInvalidConfig)
	}
	if c.Session.ReadLimit <= 0 {
		return fmt.Errorf("%w: session.read_limit must be positive", ErrInvalidConfig)
	}
	if len(c.Session.PingPayload) > 125 {
		return fmt.Errorf("%w: session.ping_payload exceeds 125 bytes", ErrInvalidConfig)
	}
	return nil
}
