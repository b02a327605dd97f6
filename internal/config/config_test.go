// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ORCHAT_HOME", dir)
	for _, key := range []string{
		"OPENROUTER_API_KEY", "ORCHAT_OPENROUTER_KEY", "ORCHAT_MODEL", "ORCHAT_BASE_URL",
		"ORCHAT_ADDR", "ORCHAT_AUTH_TOKEN", "ORCHAT_SERVER_URL", "ORCHAT_STORAGE_DRIVER", "ORCHAT_STORAGE_PATH",
		"ORCHAT_LOG_LEVEL", "ORCHAT_LOG_FORMAT",
	} {
		// Setenv registers the restore; godotenv skips keys that exist.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	// Load reads .env from the working directory.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "openai/gpt-4o-mini", cfg.Cloud.DefaultModel)
	assert.Equal(t, 3, cfg.Cloud.MaxRetries)
	assert.Equal(t, time.Second, cfg.Cloud.BaseDelay())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout())
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, filepath.Join(dir, "threads.db"), cfg.StoragePath())
	assert.Equal(t, filepath.Join(dir, "usage.json"), cfg.UsagePath())
}

func TestLoad_TOML(t *testing.T) {
	dir := isolate(t)
	content := `
[server]
addr = "0.0.0.0:9000"
allowed_origins = ["http://localhost:3000"]

[cloud]
default_model = "anthropic/claude-sonnet-4"
max_retries = 5

[storage]
driver = "json"

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.Cloud.DefaultModel)
	assert.Equal(t, 5, cfg.Cloud.MaxRetries)
	assert.Equal(t, 1000, cfg.Cloud.BaseDelayMs, "unset keys keep defaults")
	assert.Equal(t, filepath.Join(dir, "threads"), cfg.StoragePath())
	assert.Equal(t, "debug", cfg.Log.Level)

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "permissions are tightened on load")
}

func TestLoad_JSONFallback(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"cloud":{"default_model":"x-ai/grok-3-mini-beta"}}`), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "x-ai/grok-3-mini-beta", cfg.Cloud.DefaultModel)
}

func TestLoad_UnknownTOMLKey(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[cloud]\ndefault_modle = \"typo\"\n"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_modle")
}

func TestLoad_EnvOverridesAndDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("OPENROUTER_API_KEY=sk-or-from-dotenv\n"), 0600))
	t.Setenv("ORCHAT_MODEL", "openai/gpt-4o")
	t.Setenv("ORCHAT_STORAGE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-or-from-dotenv", cfg.Cloud.OpenRouterKey)
	assert.Equal(t, "openai/gpt-4o", cfg.Cloud.DefaultModel)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"bad base url", func(c *Config) { c.Cloud.BaseURL = "ftp://example.com" }, "cloud.base_url"},
		{"too many retries", func(c *Config) { c.Cloud.MaxRetries = 11 }, "cloud.max_retries"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad origin", func(c *Config) { c.Server.AllowedOrigins = []string{"localhost"} }, "server.allowed_origins"},
		{"empty model", func(c *Config) { c.Cloud.DefaultModel = " " }, "cloud.default_model"},
		{"bad server url", func(c *Config) { c.Client.ServerURL = "http://" }, "client.server_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "nope"
	cfg.Log.Format = "nope"

	err := cfg.Validate()
	var verrs ValidateErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "; ")
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("cloud.max_retries", "7"))
	assert.Equal(t, 7, cfg.Cloud.MaxRetries)

	require.NoError(t, cfg.Set("server.rate_limit", "2.5"))
	assert.Equal(t, 2.5, cfg.Server.RateLimit)

	require.NoError(t, cfg.Set("server.allowed_origins", "http://a.example, http://b.example"))
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)

	require.NoError(t, cfg.Set("cloud.default-model", "openai/o4-mini"))
	v, err := cfg.Get("cloud.default_model")
	require.NoError(t, err)
	assert.Equal(t, "openai/o4-mini", v)

	_, err = cfg.Get("cloud.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("cloud.max_retries", "many"))
	assert.Error(t, cfg.Set("cloud.max_retries.x", "1"))
	assert.Error(t, cfg.Set("version", "2"))
	assert.Error(t, cfg.Set("nosuch.key", "1"))
}

func TestConfig_SetTypedValues(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("server.max_body_bytes", 2048))
	assert.Equal(t, int64(2048), cfg.Server.MaxBodyBytes)

	require.NoError(t, cfg.Set("server.rate_burst", " 12 "))
	assert.Equal(t, 12, cfg.Server.RateBurst)

	assert.Error(t, cfg.Set("cloud.max_retries", []int{1}))
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "cloud.openrouter_key")
	assert.Contains(t, keys, "storage.max_threads")
	assert.Contains(t, keys, "client.server_url")
	assert.NotContains(t, keys, "version")

	cfg := Default()
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	dir := isolate(t)
	cfg := Default()
	cfg.Cloud.OpenRouterKey = "sk-or-secret"
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Cloud.OpenRouterKey, loaded.Cloud.OpenRouterKey)
	assert.Equal(t, cfg.Server.AllowedOrigins, loaded.Server.AllowedOrigins)

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, SaveJSON(cfg, jsonPath))
	loaded, err = LoadFromPath(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.Cloud.OpenRouterKey, loaded.Cloud.OpenRouterKey)
}

func TestConfig_StringRedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Cloud.OpenRouterKey = "sk-or-secret"
	cfg.Server.AuthToken = "local-token"

	s := cfg.String()
	assert.NotContains(t, s, "sk-or-secret")
	assert.NotContains(t, s, "local-token")
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "sk-or-secret", cfg.Cloud.OpenRouterKey, "original is untouched")
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	cfg.Server.AllowedOrigins = []string{"http://a.example"}

	clone := cfg.Clone()
	clone.Server.AllowedOrigins[0] = "http://b.example"
	assert.Equal(t, "http://a.example", cfg.Server.AllowedOrigins[0])
}
