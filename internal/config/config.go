// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for vaultsec.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.vaultsec/config.toml
//   - ~/.vaultsec/config.json
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Developer-Keyithan/the-vault/internal/security"
	"github.com/Developer-Keyithan/the-vault/internal/util"
)

// JournalOff disables the durable journal when used as storage.journal_path.
const JournalOff = "off"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete vaultsec configuration.
type Config struct {
	// Security timing and event log settings
	Security SecurityConfig `toml:"security" json:"security"`

	// Secure clipboard settings
	Clipboard ClipboardConfig `toml:"clipboard" json:"clipboard"`

	// Vault credentials and lockout policy
	Vault VaultConfig `toml:"vault" json:"vault"`

	// Durable event journal
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Structured logging
	Logging LoggingConfig `toml:"logging" json:"logging"`

	// Prometheus endpoint
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
}

// SecurityConfig contains the coordinator settings.
type SecurityConfig struct {
	// AutoLockMinutes is the inactivity threshold. 0 locks on background.
	AutoLockMinutes int `toml:"auto_lock_minutes" json:"auto_lock_minutes"`

	// ShortBackgroundMs is the background time under which a return to
	// foreground is treated as a screen recording attempt.
	ShortBackgroundMs int `toml:"short_background_ms" json:"short_background_ms"`

	// EventLogCapacity bounds the in-memory event log.
	EventLogCapacity int `toml:"event_log_capacity" json:"event_log_capacity"`

	// ComplianceIntervalSecs is how often periodic checks run.
	ComplianceIntervalSecs int `toml:"compliance_interval_secs" json:"compliance_interval_secs"`

	// BinaryChecksum is the expected SHA-256 of the vaultsec binary.
	// Empty disables the integrity probe.
	BinaryChecksum string `toml:"binary_checksum" json:"binary_checksum"`
}

// ClipboardConfig contains secure clipboard settings.
type ClipboardConfig struct {
	// Backend is "auto", "system" or "memory".
	Backend string `toml:"backend" json:"backend"`

	// AutoClear is the default for copies made without an explicit choice.
	AutoClear bool `toml:"auto_clear" json:"auto_clear"`

	// ClearDelaySecs is the default auto-clear delay.
	ClearDelaySecs int `toml:"clear_delay_secs" json:"clear_delay_secs"`

	// InspectMaxLen is the largest payload periodic inspection leaves alone.
	InspectMaxLen int `toml:"inspect_max_len" json:"inspect_max_len"`
}

// VaultConfig contains unlock credentials and lockout policy.
type VaultConfig struct {
	// PINHash is the bcrypt hash of the unlock PIN.
	PINHash string `toml:"pin_hash" json:"pin_hash"`

	// TOTPSecret enables a TOTP second factor when set.
	TOTPSecret string `toml:"totp_secret" json:"totp_secret"`

	// MaxAttempts is the consecutive failures allowed before lockout.
	MaxAttempts int `toml:"max_attempts" json:"max_attempts"`

	// LockoutMinutes is how long a lockout lasts.
	LockoutMinutes int `toml:"lockout_minutes" json:"lockout_minutes"`
}

// StorageConfig contains journal settings.
type StorageConfig struct {
	// JournalPath is the SQLite journal file. Empty means the default
	// location; "off" disables the journal.
	JournalPath string `toml:"journal_path" json:"journal_path"`

	// RetentionDays prunes older journal entries on startup. 0 keeps all.
	RetentionDays int `toml:"retention_days" json:"retention_days"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" json:"level"`
}

// MetricsConfig contains the metrics endpoint settings.
type MetricsConfig struct {
	// Listen is the host:port for /metrics. Empty disables the endpoint.
	Listen string `toml:"listen" json:"listen"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with the stock settings.
func Default() *Config {
	return &Config{
		Security: SecurityConfig{
			AutoLockMinutes:        security.DefaultAutoLockMinutes,
			ShortBackgroundMs:      int(security.DefaultShortBackgroundThreshold / time.Millisecond),
			EventLogCapacity:       security.DefaultEventLogCapacity,
			ComplianceIntervalSecs: int(security.DefaultCheckInterval / time.Second),
		},
		Clipboard: ClipboardConfig{
			Backend:        "auto",
			AutoClear:      true,
			ClearDelaySecs: int(security.DefaultClipboardClearDelay / time.Second),
			InspectMaxLen:  security.DefaultClipboardInspectMaxLen,
		},
		Vault: VaultConfig{
			MaxAttempts:    5,
			LockoutMinutes: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults fills empty string settings with their defaults. Numeric
// settings are left alone because zero can be meaningful.
func (c *Config) SetDefaults() {
	defaults := Default()
	if c.Clipboard.Backend == "" {
		c.Clipboard.Backend = defaults.Clipboard.Backend
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the vaultsec configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".vaultsec"), nil
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

// ensureSecurePermissions tightens config files to 0600.
// SECURITY: The config holds the PIN hash and TOTP secret.
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

// Load loads configuration from the default location.
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	for _, locate := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := locate()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file. Files ending in
// .json are read as JSON, anything else as TOML. Keys missing from the file
// keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadTOML decodes a TOML file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
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

// LoadJSON decodes a JSON file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
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

// SaveTOML writes the configuration as TOML.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
// SECURITY: Written 0600 because the file holds credentials.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# vaultsec configuration file\n")
	buf.WriteString("# Generated by vaultsec - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWritePrivate(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration as JSON.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWritePrivate(path, data); err != nil {
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns all problems found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Security
	// ==========================================================================

	if c.Security.AutoLockMinutes < 0 {
		add("security.auto_lock_minutes", "must be non-negative, got %d", c.Security.AutoLockMinutes)
	}
	if c.Security.AutoLockMinutes > 24*60 {
		add("security.auto_lock_minutes", "must be at most 1440 (one day), got %d", c.Security.AutoLockMinutes)
	}
	if c.Security.ShortBackgroundMs < 0 || c.Security.ShortBackgroundMs > 60_000 {
		add("security.short_background_ms", "must be 0-60000, got %d", c.Security.ShortBackgroundMs)
	}
	if c.Security.EventLogCapacity < 1 || c.Security.EventLogCapacity > 10_000 {
		add("security.event_log_capacity", "must be 1-10000, got %d", c.Security.EventLogCapacity)
	}
	if c.Security.ComplianceIntervalSecs < 5 {
		add("security.compliance_interval_secs", "must be at least 5, got %d", c.Security.ComplianceIntervalSecs)
	}
	if sum := c.Security.BinaryChecksum; sum != "" {
		if len(sum) != 64 || strings.Trim(strings.ToLower(sum), "0123456789abcdef") != "" {
			add("security.binary_checksum", "must be a hex SHA-256 digest")
		}
	}

	// ==========================================================================
	// Clipboard
	// ==========================================================================

	validBackends := map[string]bool{"auto": true, "system": true, "memory": true}
	if !validBackends[strings.ToLower(c.Clipboard.Backend)] {
		add("clipboard.backend", "invalid backend '%s', must be one of: auto, system, memory", c.Clipboard.Backend)
	}
	if c.Clipboard.ClearDelaySecs < 1 || c.Clipboard.ClearDelaySecs > 3600 {
		add("clipboard.clear_delay_secs", "must be 1-3600, got %d", c.Clipboard.ClearDelaySecs)
	}
	if c.Clipboard.InspectMaxLen < 1 {
		add("clipboard.inspect_max_len", "must be positive, got %d", c.Clipboard.InspectMaxLen)
	}

	// ==========================================================================
	// Vault
	// ==========================================================================

	if c.Vault.PINHash != "" && !strings.HasPrefix(c.Vault.PINHash, "$2") {
		add("vault.pin_hash", "must be a bcrypt hash")
	}
	if c.Vault.MaxAttempts < 1 || c.Vault.MaxAttempts > 20 {
		add("vault.max_attempts", "must be 1-20, got %d", c.Vault.MaxAttempts)
	}
	if c.Vault.LockoutMinutes < 1 || c.Vault.LockoutMinutes > 24*60 {
		add("vault.lockout_minutes", "must be 1-1440, got %d", c.Vault.LockoutMinutes)
	}

	// ==========================================================================
	// Storage, logging, metrics
	// ==========================================================================

	if c.Storage.RetentionDays < 0 {
		add("storage.retention_days", "must be non-negative, got %d", c.Storage.RetentionDays)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			add("metrics.listen", "invalid address: %v", err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level '%s', must be one of: debug, info, warn, error", name)
	}
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// CoordinatorConfig converts the settings into a security.Config.
func (c *Config) CoordinatorConfig() security.Config {
	return security.Config{
		AutoLockMinutes:          c.Security.AutoLockMinutes,
		ShortBackgroundThreshold: time.Duration(c.Security.ShortBackgroundMs) * time.Millisecond,
		EventLogCapacity:         c.Security.EventLogCapacity,
		CheckInterval:            time.Duration(c.Security.ComplianceIntervalSecs) * time.Second,
		ClipboardAutoClear:       c.Clipboard.AutoClear,
		ClipboardClearDelay:      time.Duration(c.Clipboard.ClearDelaySecs) * time.Second,
		ClipboardInspectMaxLen:   c.Clipboard.InspectMaxLen,
	}
}

// JournalPath resolves storage.journal_path. ok is false when the journal
// is disabled.
func (c *Config) JournalPath() (path string, ok bool, err error) {
	switch p := strings.TrimSpace(c.Storage.JournalPath); {
	case strings.EqualFold(p, JournalOff):
		return "", false, nil
	case p != "":
		return p, true, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", false, err
	}
	return filepath.Join(dir, "journal.db"), true, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - VAULTSEC_AUTO_LOCK_MINUTES: overrides security.auto_lock_minutes
//   - VAULTSEC_CLIPBOARD_BACKEND: overrides clipboard.backend
//   - VAULTSEC_PIN_HASH: overrides vault.pin_hash
//   - VAULTSEC_TOTP_SECRET: overrides vault.totp_secret
//   - VAULTSEC_JOURNAL_PATH: overrides storage.journal_path
//   - VAULTSEC_LOG_LEVEL: overrides logging.level
//   - VAULTSEC_METRICS_LISTEN: overrides metrics.listen
//
// Malformed numeric values are ignored and left to Validate.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("VAULTSEC_AUTO_LOCK_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Security.AutoLockMinutes = n
		}
	}
	if v := os.Getenv("VAULTSEC_CLIPBOARD_BACKEND"); v != "" {
		c.Clipboard.Backend = v
	}
	if v := os.Getenv("VAULTSEC_PIN_HASH"); v != "" {
		c.Vault.PINHash = v
	}
	if v := os.Getenv("VAULTSEC_TOTP_SECRET"); v != "" {
		c.Vault.TOTPSecret = v
	}
	if v := os.Getenv("VAULTSEC_JOURNAL_PATH"); v != "" {
		c.Storage.JournalPath = v
	}
	if v := os.Getenv("VAULTSEC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VAULTSEC_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "security.auto_lock_minutes").
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

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
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

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
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
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
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

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a JSON rendering with credentials redacted.
// SECURITY: The PIN hash and TOTP secret never appear in logs.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Vault.PINHash != "" {
		safe.Vault.PINHash = "[REDACTED]"
	}
	if safe.Vault.TOTPSecret != "" {
		safe.Vault.TOTPSecret = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
