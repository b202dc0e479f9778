package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Listen: ListenConfig{
			Host:            "0.0.0.0",
			Port:            7350,
			Path:            "/ws",
			WriteTimeout:    10 * time.Second,
			PongWait:        time.Minute,
			MaxMessageBytes: 65536,
			EventBuffer:     64,
		},
		Identity: IdentityConfig{
			URL:          "redis://localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			OpTimeout:    5 * time.Second,
			MaxRetries:   2,
			RetryBackoff: 250 * time.Millisecond,
		},
		Session: SessionConfig{
			TokenLifetime:   168 * time.Hour,
			StaleTTL:        15 * time.Minute,
			JanitorInterval: time.Minute,
		},
		Lobby: LobbyConfig{
			MaxPartySize: 16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_BadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.Port = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen.port")
}

func TestValidate_BadPath(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.Path = "ws"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen.path")
}

func TestValidate_EmptyIdentityURL(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.URL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity.url")
}

func TestValidate_NegativeRetries(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.MaxRetries = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity.max_retries")
}

func TestValidate_ZeroStaleTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Session.StaleTTL = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.stale_ttl")
}

func TestValidate_SmallPartySize(t *testing.T) {
	cfg := validConfig()
	cfg.Lobby.MaxPartySize = 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lobby.max_party_size")
}

func TestValidate_BadLogging(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")

	cfg = validConfig()
	cfg.Logging.Format = "xml"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.Port = -1
	cfg.Identity.URL = ""
	cfg.Logging.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen.port")
	assert.Contains(t, err.Error(), "identity.url")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  port: 9100\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Listen.Port)
	assert.Equal(t, "/ws", cfg.Listen.Path)
	assert.Equal(t, "redis://localhost:6379", cfg.Identity.URL)
	assert.Equal(t, 15*time.Minute, cfg.Session.StaleTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: shouty\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_PortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := validConfig()
		cfg.Listen.Port = rapid.IntRange(1, 65535).Draw(t, "port")
		assert.NoError(t, cfg.Validate())
	})
}
