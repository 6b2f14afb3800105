// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
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
	"github.com/jeranaias/evalchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete evalchat configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Auth    AuthConfig    `toml:"auth"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	UI      UIConfig      `toml:"ui"`
}

// ServerConfig describes the chat service and how hard we may hit it.
type ServerConfig struct {
	// BaseURL is the service root, e.g. https://eval.example.com
	BaseURL string `toml:"base_url"`
	// TimeoutSecs bounds non-streaming requests (history listing)
	TimeoutSecs int `toml:"timeout_secs"`
	// ConnectTimeoutSecs bounds dialing and response headers of a send;
	// the reply stream itself is only bounded by cancellation
	ConnectTimeoutSecs int `toml:"connect_timeout_secs"`
	// RequestsPerSecond limits outbound requests (0 disables the limiter)
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// Burst is the limiter bucket size
	Burst int `toml:"burst"`
	// PageSize is the history page size requested from the server
	PageSize int `toml:"page_size"`
	// MaxPages caps how many history pages one refetch may read
	MaxPages int `toml:"max_pages"`
}

// AuthConfig locates the bearer credential.
type AuthConfig struct {
	// TokenFile holds the bearer token (mode 0600)
	TokenFile string `toml:"token_file"`
	// Token comes from EVALCHAT_TOKEN only and is never written to disk
	Token string `toml:"-"`
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	// Level: trace, debug, info, warn, error
	Level string `toml:"level"`
	// Format: console or json
	Format string `toml:"format"`
	// File receives log output; empty means stderr. The TUI always logs to a
	// file so the screen is not corrupted.
	File string `toml:"file"`
	// Sampling keeps the first 100 events then one in 100
	Sampling bool `toml:"sampling"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	// Addr such as 127.0.0.1:9464; empty disables the listener
	Addr string `toml:"addr"`
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	// HistoryFile stores REPL input history
	HistoryFile string `toml:"history_file"`
	// DefaultSession is used when --session is not given
	DefaultSession int64 `toml:"default_session"`
	// ShowTimestamps prefixes transcript lines with the message time
	ShowTimestamps bool `toml:"show_timestamps"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the built-in configuration. Paths under the config
// directory are filled in by fillDefaults once the home directory is known.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:            "http://127.0.0.1:8000",
			TimeoutSecs:        30,
			ConnectTimeoutSecs: 10,
			RequestsPerSecond:  5,
			Burst:              5,
			PageSize:           100,
			MaxPages:           20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Timeout returns the non-streaming request timeout.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// ConnectTimeout returns the send connect timeout.
func (s ServerConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the evalchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".evalchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens a config file to 0600.
// SECURITY: The directory also holds the bearer token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config at path, or the default location when path is
// empty. A missing file yields the defaults. Environment overrides are
// applied before validation.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes path over cfg. Keys absent from the file keep their
// current values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Not fatal; permissions may be unfixable on some filesystems.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// fillDefaults fills in zero values with defaults and resolves file paths
// relative to the config directory.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = defaults.Server.BaseURL
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	if cfg.Server.TimeoutSecs == 0 {
		cfg.Server.TimeoutSecs = defaults.Server.TimeoutSecs
	}
	if cfg.Server.ConnectTimeoutSecs == 0 {
		cfg.Server.ConnectTimeoutSecs = defaults.Server.ConnectTimeoutSecs
	}
	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = defaults.Server.Burst
	}
	if cfg.Server.PageSize == 0 {
		cfg.Server.PageSize = defaults.Server.PageSize
	}
	if cfg.Server.MaxPages == 0 {
		cfg.Server.MaxPages = defaults.Server.MaxPages
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}

	if cfg.Auth.TokenFile == "" || cfg.UI.HistoryFile == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		if cfg.Auth.TokenFile == "" {
			cfg.Auth.TokenFile = filepath.Join(dir, "token")
		}
		if cfg.UI.HistoryFile == "" {
			cfg.UI.HistoryFile = filepath.Join(dir, "history")
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# evalchat configuration file\n")
	buf.WriteString("# Generated by evalchat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
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

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, ValidationError{
			Field:   "server.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.Server.BaseURL),
		})
	}
	if c.Server.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "server.timeout_secs", Message: "must not be negative"})
	}
	if c.Server.ConnectTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "server.connect_timeout_secs", Message: "must not be negative"})
	}
	if c.Server.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "server.requests_per_second", Message: "must not be negative"})
	}
	if c.Server.Burst < 0 {
		errs = append(errs, ValidationError{Field: "server.burst", Message: "must not be negative"})
	}
	if c.Server.PageSize < 1 || c.Server.PageSize > 1000 {
		errs = append(errs, ValidationError{
			Field:   "server.page_size",
			Message: fmt.Sprintf("%d out of range, must be 1-1000", c.Server.PageSize),
		})
	}
	if c.Server.MaxPages < 1 {
		errs = append(errs, ValidationError{Field: "server.max_pages", Message: "must be at least 1"})
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: trace, debug, info, warn, error", c.Log.Level),
		})
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: console, json", c.Log.Format),
		})
	}

	if c.UI.DefaultSession < 0 {
		errs = append(errs, ValidationError{Field: "ui.default_session", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - EVALCHAT_SERVER: overrides server.base_url
//   - EVALCHAT_TOKEN: bearer token, takes precedence over auth.token_file
//   - EVALCHAT_TOKEN_FILE: overrides auth.token_file
//   - EVALCHAT_LOG_LEVEL: overrides log.level
//   - EVALCHAT_LOG_FORMAT: overrides log.format
//   - EVALCHAT_METRICS_ADDR: overrides metrics.addr
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("EVALCHAT_SERVER"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("EVALCHAT_TOKEN"); v != "" {
		c.Auth.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("EVALCHAT_TOKEN_FILE"); v != "" {
		c.Auth.TokenFile = v
	}
	if v := os.Getenv("EVALCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("EVALCHAT_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("EVALCHAT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "server.page_size").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the struct by toml tag, one dotted segment at a time.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("'%s' is a section, not a key", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds the field whose toml tag matches name. Fields tagged "-"
// are not addressable.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("toml")
		if tag == "" || tag == "-" {
			continue
		}
		if strings.Split(tag, ",")[0] == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %w", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %w", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns all settable configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"server.base_url",
		"server.timeout_secs",
		"server.connect_timeout_secs",
		"server.requests_per_second",
		"server.burst",
		"server.page_size",
		"server.max_pages",
		"auth.token_file",
		"log.level",
		"log.format",
		"log.file",
		"log.sampling",
		"metrics.addr",
		"ui.history_file",
		"ui.default_session",
		"ui.show_timestamps",
	}
}

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as TOML. The environment token is never part
// of the output.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
