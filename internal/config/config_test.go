package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
version: "1.0"
server:
  host: "0.0.0.0"
  http_port: 8080
`

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)

	// Defaults applied by validation
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "/api/v1", cfg.API.BasePath)
	assert.Equal(t, "X-API-Key", cfg.API.Auth.HeaderName)
	assert.Equal(t, 3000, cfg.Sync.BatchSize)
	assert.Equal(t, time.Hour, cfg.Sync.LockTTL)
	assert.Equal(t, "https://account.xiaomi.com", cfg.Platform.AccountBaseURL)
	assert.Equal(t, "https://hlth.io.mi.com", cfg.Platform.APIBaseURL)
	assert.Equal(t, "data/slimming.db", cfg.Storage.Path)
}

func TestParseFull(t *testing.T) {
	yaml := `
version: "1.0"
server:
  host: "127.0.0.1"
  http_port: 9000
  log_level: "debug"
api:
  enabled: true
  auth:
    enabled: true
    api_keys: ["key-1", "key-2"]
platform:
  timeout: 45s
  utls_enabled: true
sync:
  batch_size: 500
  lock_ttl: 30m
storage:
  path: "/tmp/sync.db"
  retention_enabled: true
  retention_period: 720h
scheduler:
  enabled: true
telegram:
  enabled: true
  bot_token: "123:abc"
  chat_id: 42
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	assert.True(t, cfg.API.Auth.Enabled)
	assert.Len(t, cfg.API.Auth.APIKeys, 2)
	assert.Equal(t, 45*time.Second, cfg.Platform.Timeout)
	assert.True(t, cfg.Platform.UTLSEnabled)
	assert.Equal(t, 500, cfg.Sync.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Sync.LockTTL)
	assert.Equal(t, "/tmp/sync.db", cfg.Storage.Path)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing version", `server: {host: "x", http_port: 80}`},
		{"bad port", `{version: "1.0", server: {host: "x", http_port: 99999}}`},
		{"auth without keys", `
version: "1.0"
server: {host: "x", http_port: 80}
api:
  auth:
    enabled: true
`},
		{"telegram without token", `
version: "1.0"
server: {host: "x", http_port: 80}
telegram:
  enabled: true
  chat_id: 1
`},
		{"not yaml", `{{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoaderEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "555:secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := minimalYAML + `
telegram:
  enabled: true
  bot_token: "${TEST_BOT_TOKEN}"
  chat_id: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "555:secret", cfg.Telegram.BotToken)
	assert.Same(t, cfg, loader.Get())
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoaderReloadCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	var got *Config
	loader.SetOnChange(func(c *Config) { got = c })

	updated := minimalYAML + "\nsync:\n  batch_size: 100\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	cfg, err := loader.Reload()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 100, got.Sync.BatchSize)
	assert.Equal(t, cfg, got)
}
