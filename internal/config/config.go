// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete orchat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server  ServerConfig  `toml:"server" json:"server"`
	Cloud   CloudConfig   `toml:"cloud" json:"cloud"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Log     LogConfig     `toml:"log" json:"log"`
	Client  ClientConfig  `toml:"client" json:"client"`

	// Warnings collects non-fatal problems found while loading, for the
	// caller to log once a logger exists.
	Warnings []string `toml:"-" json:"-"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	// RateLimit is the sustained requests per second allowed per client IP.
	// Zero disables rate limiting.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`

	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`

	// AuthToken, when set, is required as a Bearer token on /api routes.
	AuthToken string `toml:"auth_token" json:"auth_token"`

	MaxBodyBytes        int64 `toml:"max_body_bytes" json:"max_body_bytes"`
	ShutdownTimeoutSecs int   `toml:"shutdown_timeout_secs" json:"shutdown_timeout_secs"`
}

// CloudConfig configures the OpenRouter client.
type CloudConfig struct {
	OpenRouterKey string `toml:"openrouter_key" json:"openrouter_key"`
	BaseURL       string `toml:"base_url" json:"base_url"`
	DefaultModel  string `toml:"default_model" json:"default_model"`
	MaxRetries    int    `toml:"max_retries" json:"max_retries"`
	BaseDelayMs   int    `toml:"base_delay_ms" json:"base_delay_ms"`
	SiteURL       string `toml:"site_url" json:"site_url"`
	SiteName      string `toml:"site_name" json:"site_name"`
}

// StorageConfig selects the thread store.
type StorageConfig struct {
	// Driver is one of "memory", "json" or "sqlite".
	Driver     string `toml:"driver" json:"driver"`
	Path       string `toml:"path" json:"path"`
	MaxThreads int    `toml:"max_threads" json:"max_threads"`
	UsagePath  string `toml:"usage_path" json:"usage_path"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level string `toml:"level" json:"level"`
	// Format is "auto" (console on a terminal, JSON otherwise), "json" or
	// "console".
	Format string `toml:"format" json:"format"`
}

// ClientConfig configures the CLI when it talks to a running server.
type ClientConfig struct {
	ServerURL string `toml:"server_url" json:"server_url"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:                "127.0.0.1:8787",
			RateLimit:           5,
			RateBurst:           20,
			MaxBodyBytes:        20 << 20, // images arrive as data URLs
			ShutdownTimeoutSecs: 10,
		},

		Cloud: CloudConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: model.DefaultModelID,
			MaxRetries:   3,
			BaseDelayMs:  1000,
			SiteName:     "orchat",
		},

		Storage: StorageConfig{
			Driver:     "sqlite",
			MaxThreads: 500,
		},

		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},

		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:8787",
		},
	}
}

// BaseDelay returns the retry base delay.
func (c CloudConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the orchat configuration directory. ORCHAT_HOME
// overrides the default ~/.orchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("ORCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".orchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// restrict removes group and other access from a config file, which may
// hold an API key. Failures become warnings.
func (c *Config) restrict(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm()&0o077 == 0 {
		return
	}
	if err := os.Chmod(path, 0o600); err != nil {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("%s is accessible by other users (mode %o): %v", path, info.Mode().Perm(), err))
	}
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ./.env (if present), then the TOML config, falling back to
// JSON and finally to defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	return cfg, cfg.finish()
}

// LoadFromPath loads configuration from a specific file with full
// validation. Files ending in .json are decoded as JSON, anything else as
// TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	if strings.HasSuffix(path, ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return cfg, cfg.finish()
}

// finish applies env overrides, defaults and validation.
func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	cfg.restrict(path)

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	cfg.restrict(path)

	if err := util.ReadJSON(path, cfg); err != nil {
		return fmt.Errorf("failed to load JSON config: %w", err)
	}
	return nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if c.Server.ShutdownTimeoutSecs == 0 {
		c.Server.ShutdownTimeoutSecs = d.Server.ShutdownTimeoutSecs
	}

	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = d.Cloud.BaseURL
	}
	if c.Cloud.DefaultModel == "" {
		c.Cloud.DefaultModel = d.Cloud.DefaultModel
	}
	if c.Cloud.BaseDelayMs == 0 {
		c.Cloud.BaseDelayMs = d.Cloud.BaseDelayMs
	}
	if c.Cloud.SiteName == "" {
		c.Cloud.SiteName = d.Cloud.SiteName
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Client.ServerURL == "" {
		c.Client.ServerURL = d.Client.ServerURL
	}
}

// StoragePath returns the configured storage path, or the default location
// under the config directory for the selected driver.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	dir, err := ConfigDir()
	if err != nil {
		dir = "."
	}
	if c.Storage.Driver == "json" {
		return filepath.Join(dir, "threads")
	}
	return filepath.Join(dir, "threads.db")
}

// UsagePath returns the usage ledger file path.
func (c *Config) UsagePath() string {
	if c.Storage.UsagePath != "" {
		return c.Storage.UsagePath
	}
	dir, err := ConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "usage.json")
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# orchat configuration file\n")
	buf.WriteString("# Generated by orchat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	if err := util.WriteJSON(path, cfg); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns all problems at once as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if strings.TrimSpace(c.Server.Addr) == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must be >= 0, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 0 {
		add("server.rate_burst", "must be >= 0, got %d", c.Server.RateBurst)
	}
	if c.Server.MaxBodyBytes < 0 {
		add("server.max_body_bytes", "must be >= 0, got %d", c.Server.MaxBodyBytes)
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if err := validateHTTPURL(origin); err != nil {
			add("server.allowed_origins", "invalid origin %q: %v", origin, err)
		}
	}

	// Cloud
	if err := validateHTTPURL(c.Cloud.BaseURL); err != nil {
		add("cloud.base_url", "%v", err)
	}
	if c.Cloud.MaxRetries < 0 || c.Cloud.MaxRetries > 10 {
		add("cloud.max_retries", "must be between 0 and 10, got %d", c.Cloud.MaxRetries)
	}
	if c.Cloud.BaseDelayMs < 0 {
		add("cloud.base_delay_ms", "must be >= 0, got %d", c.Cloud.BaseDelayMs)
	}
	if strings.TrimSpace(c.Cloud.DefaultModel) == "" {
		add("cloud.default_model", "must not be empty")
	}
	if c.Cloud.SiteURL != "" {
		if err := validateHTTPURL(c.Cloud.SiteURL); err != nil {
			add("cloud.site_url", "%v", err)
		}
	}

	// Storage
	switch c.Storage.Driver {
	case "memory", "json", "sqlite":
	default:
		add("storage.driver", "invalid driver %q, must be one of: memory, json, sqlite", c.Storage.Driver)
	}
	if c.Storage.MaxThreads < 0 {
		add("storage.max_threads", "must be >= 0, got %d", c.Storage.MaxThreads)
	}

	// Log
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		add("log.level", "invalid level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "auto", "json", "console":
	default:
		add("log.format", "invalid format %q, must be one of: auto, json, console", c.Log.Format)
	}

	// Client
	if err := validateHTTPURL(c.Client.ServerURL); err != nil {
		add("client.server_url", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies ORCHAT_* variables and OPENROUTER_API_KEY.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Cloud.OpenRouterKey = key
	}
	if key := os.Getenv("ORCHAT_OPENROUTER_KEY"); key != "" {
		c.Cloud.OpenRouterKey = key
	}
	if v := os.Getenv("ORCHAT_MODEL"); v != "" {
		c.Cloud.DefaultModel = v
	}
	if v := os.Getenv("ORCHAT_BASE_URL"); v != "" {
		c.Cloud.BaseURL = v
	}
	if v := os.Getenv("ORCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ORCHAT_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("ORCHAT_SERVER_URL"); v != "" {
		c.Client.ServerURL = v
	}
	if v := os.Getenv("ORCHAT_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("ORCHAT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("ORCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ORCHAT_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get returns the value of a dotted key such as "cloud.max_retries".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a dotted key. Strings are parsed into the field's type;
// string lists are split on commas.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if s, ok := value.(string); ok {
		return setFromString(field, s)
	}
	v := reflect.ValueOf(value)
	if !v.IsValid() || !v.Type().ConvertibleTo(field.Type()) {
		return fmt.Errorf("%s: cannot assign %T to %s", key, value, field.Type())
	}
	field.Set(v.Convert(field.Type()))
	return nil
}

// Keys lists every dotted key in file order.
func Keys() []string {
	var keys []string
	root := reflect.TypeOf(Config{})
	for i := range root.NumField() {
		section := root.Field(i)
		if section.Type.Kind() != reflect.Struct {
			continue
		}
		for j := range section.Type.NumField() {
			keys = append(keys, tagName(section)+"."+tagName(section.Type.Field(j)))
		}
	}
	return keys
}

// lookup resolves "section.name" through the toml tags. Dashes in the
// name are accepted for underscores.
func (c *Config) lookup(key string) (reflect.Value, error) {
	section, name, ok := strings.Cut(strings.ToLower(strings.TrimSpace(key)), ".")
	if !ok || section == "" || name == "" {
		return reflect.Value{}, fmt.Errorf("invalid key %q: expected section.name", key)
	}
	sv, ok := fieldByTag(reflect.ValueOf(c).Elem(), section)
	if !ok || sv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("unknown section: %s", section)
	}
	fv, ok := fieldByTag(sv, strings.ReplaceAll(name, "-", "_"))
	if !ok {
		return reflect.Value{}, fmt.Errorf("unknown key: %s", key)
	}
	return fv, nil
}

func fieldByTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()
	for i := range t.NumField() {
		if tagName(t.Field(i)) == tag {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tagName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	return name
}

func setFromString(field reflect.Value, s string) error {
	s = strings.TrimSpace(s)
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", s)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", s)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", s)
		}
		field.SetBool(b)
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String returns the config as JSON with the API key redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Cloud.OpenRouterKey != "" {
		safe.Cloud.OpenRouterKey = "[REDACTED]"
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
