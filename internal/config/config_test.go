package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "STUDIO_API_URL", "STUDIO_API_KEY", "STUDIO_MODEL",
		"GOOGLE_CLOUD_PROJECT", "GOOGLE_APPLICATION_CREDENTIALS", "VISION_API_KEY",
		"MAPS_API_KEY", "MAX_PER_MINUTE", "PASSTHROUGH_PER_MINUTE", "TRUST_X_FORWARDED_FOR",
	} {
		t.Setenv(k, "")
	}
	// keep a stray .env in the package dir from leaking in
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, 30, cfg.Limits.ChatPerMinute)
	assert.Equal(t, 30, cfg.Limits.PassthroughPerMinute)
	assert.Equal(t, 20*time.Second, cfg.Generative.Timeout())
	assert.False(t, cfg.Generative.Configured())
	assert.Equal(t, "users", cfg.Google.UsersCollection)
	assert.Len(t, cfg.Routes, 3)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
limits:
  chat_per_minute: 5
generative:
  api_key: from-file
routes:
  - id: geocode
    path_prefix: /maps/geocode
    upstream: https://example.test/geocode
`), 0o600))

	t.Setenv("MAX_PER_MINUTE", "12")
	t.Setenv("PORT", "7777")
	t.Setenv("TRUST_X_FORWARDED_FOR", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 12, cfg.Limits.ChatPerMinute)
	assert.True(t, cfg.Server.TrustForwardedFor)
	assert.True(t, cfg.Generative.Configured())
	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, []string{"GET"}, cfg.Routes[0].Methods)
	assert.Equal(t, 10*time.Second, cfg.Routes[0].Timeout())
}

func TestLoad_InvalidInt(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_PER_MINUTE", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_PER_MINUTE")
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
