// Package config provides Viper-based configuration loading for the arena server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ListenConfig holds websocket listener settings.
type ListenConfig struct {
	// Host is the bind address for the websocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the websocket listener.
	Port int `mapstructure:"port"`
	// Path is the HTTP path clients connect to.
	Path string `mapstructure:"path"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PongWait is how long a connection may go without a pong before it is
	// considered dead.
	PongWait time.Duration `mapstructure:"pong_wait"`
	// MaxMessageBytes caps the size of a single inbound frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// EventBuffer is the capacity of each connection's inbound message queue.
	EventBuffer int `mapstructure:"event_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// IdentityConfig holds identity-store connection and retry settings.
type IdentityConfig struct {
	// URL is the Redis connection URL (e.g. redis://localhost:6379).
	URL string `mapstructure:"url"`
	// PoolSize is the maximum number of pooled connections.
	PoolSize int `mapstructure:"pool_size"`
	// MinIdleConns is the minimum number of idle pooled connections.
	MinIdleConns int `mapstructure:"min_idle_conns"`
	// OpTimeout is the per-operation deadline for store calls.
	OpTimeout time.Duration `mapstructure:"op_timeout"`
	// MaxRetries is how many times a failed store call is retried before
	// the failure is surfaced to the client.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBackoff is the base delay between retries (grows linearly).
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// SessionConfig holds session token and stale-entry reclaim settings.
type SessionConfig struct {
	// TokenLifetime is how long a freshly minted session token stays valid.
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
	// StaleTTL is how long a disconnected identity is held for respawn
	// before the janitor reclaims it.
	StaleTTL time.Duration `mapstructure:"stale_ttl"`
	// JanitorInterval is how often the stale registry is swept.
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// LobbyConfig holds matchmaking limits.
type LobbyConfig struct {
	// MaxPartySize is the largest party a finder may request.
	MaxPartySize int `mapstructure:"max_party_size"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen   ListenConfig   `mapstructure:"listen"`
	Identity IdentityConfig `mapstructure:"identity"`
	Session  SessionConfig  `mapstructure:"session"`
	Lobby    LobbyConfig    `mapstructure:"lobby"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateListen(c.Listen); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateIdentity(c.Identity); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLobby(c.Lobby); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateListen(l ListenConfig) error {
	var errs []string
	if l.Port < 1 || l.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port must be 1-65535, got %d", l.Port))
	}
	if !strings.HasPrefix(l.Path, "/") {
		errs = append(errs, fmt.Sprintf("listen.path must start with '/', got %q", l.Path))
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, "listen.write_timeout must not be negative")
	}
	if l.PongWait <= 0 {
		errs = append(errs, "listen.pong_wait must be positive")
	}
	if l.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("listen.max_message_bytes must be >= 1, got %d", l.MaxMessageBytes))
	}
	if l.EventBuffer < 1 {
		errs = append(errs, fmt.Sprintf("listen.event_buffer must be >= 1, got %d", l.EventBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateIdentity(i IdentityConfig) error {
	var errs []string
	if i.URL == "" {
		errs = append(errs, "identity.url must not be empty")
	}
	if i.PoolSize < 1 {
		errs = append(errs, fmt.Sprintf("identity.pool_size must be >= 1, got %d", i.PoolSize))
	}
	if i.MinIdleConns < 0 {
		errs = append(errs, fmt.Sprintf("identity.min_idle_conns must be >= 0, got %d", i.MinIdleConns))
	}
	if i.OpTimeout <= 0 {
		errs = append(errs, "identity.op_timeout must be positive")
	}
	if i.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("identity.max_retries must be >= 0, got %d", i.MaxRetries))
	}
	if i.RetryBackoff < 0 {
		errs = append(errs, "identity.retry_backoff must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.TokenLifetime <= 0 {
		errs = append(errs, "session.token_lifetime must be positive")
	}
	if s.StaleTTL <= 0 {
		errs = append(errs, "session.stale_ttl must be positive")
	}
	if s.JanitorInterval <= 0 {
		errs = append(errs, "session.janitor_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLobby(l LobbyConfig) error {
	if l.MaxPartySize < 2 {
		return fmt.Errorf("lobby.max_party_size must be >= 2, got %d", l.MaxPartySize)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.host", "0.0.0.0")
	v.SetDefault("listen.port", 7350)
	v.SetDefault("listen.path", "/ws")
	v.SetDefault("listen.write_timeout", "10s")
	v.SetDefault("listen.pong_wait", "60s")
	v.SetDefault("listen.max_message_bytes", 65536)
	v.SetDefault("listen.event_buffer", 64)

	v.SetDefault("identity.url", "redis://localhost:6379")
	v.SetDefault("identity.pool_size", 10)
	v.SetDefault("identity.min_idle_conns", 2)
	v.SetDefault("identity.op_timeout", "5s")
	v.SetDefault("identity.max_retries", 2)
	v.SetDefault("identity.retry_backoff", "250ms")

	v.SetDefault("session.token_lifetime", "168h")
	v.SetDefault("session.stale_ttl", "15m")
	v.SetDefault("session.janitor_interval", "1m")

	v.SetDefault("lobby.max_party_size", 16)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
