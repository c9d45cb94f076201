// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for chatrelay.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation. Precedence: environment, file, built-in
// defaults.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatrelay configuration.
type Config struct {
	// ListenAddr is the HTTP front door bind address.
	ListenAddr string `toml:"listen_addr"`

	// DataDir holds the SQLite databases. Empty selects in-memory stores.
	DataDir string `toml:"data_dir"`

	// Delivery configuration (chunking for the delivery channel)
	Delivery DeliveryConfig `toml:"delivery"`

	// Pipeline configuration (prompt assembly, previews, editor pass)
	Pipeline PipelineConfig `toml:"pipeline"`

	// Rate limiting configuration
	Rate RateConfig `toml:"rate"`

	// Backend role configuration
	Backends BackendsConfig `toml:"backends"`
}

// DeliveryConfig contains delivery channel configuration.
type DeliveryConfig struct {
	// ChunkLimit is the channel's per-message size limit in bytes.
	ChunkLimit int `toml:"chunk_limit"`
}

// PipelineConfig contains response pipeline configuration.
type PipelineConfig struct {
	// HistoryWindow is the number of recent turns included in a prompt.
	HistoryWindow int `toml:"history_window"`
	// ContentCap truncates each history turn and the incoming user turn
	// to this many runes before prompt assembly.
	ContentCap int `toml:"content_cap"`
	// PreviewLen bounds streaming preview snapshots in runes.
	PreviewLen int `toml:"preview_len"`
	// EditorEnabled turns on the markup editor pass when an editor
	// backend is configured.
	EditorEnabled bool `toml:"editor_enabled"`
}

// RateConfig contains the per-user front door throttle.
type RateConfig struct {
	// PerUserRPS is the sustained requests-per-second budget per user.
	PerUserRPS float64 `toml:"per_user_rps"`
	// Burst is the per-user burst allowance.
	Burst int `toml:"burst"`
}

// BackendConfig configures a single backend role.
type BackendConfig struct {
	// BaseURL is the API base URL (e.g. "https://api.example.com/v1").
	BaseURL string `toml:"base_url"`
	// APIKey is the bearer token. Normally supplied via environment.
	APIKey string `toml:"api_key"`
	// Model is the model identifier sent on requests.
	Model string `toml:"model"`
}

// Configured reports whether this backend has enough settings to be used.
func (b BackendConfig) Configured() bool {
	return b.BaseURL != "" && b.APIKey != "" && b.Model != ""
}

// BackendsConfig holds the three backend roles. Primary is required for
// normal operation; research and editor are optional.
type BackendsConfig struct {
	Primary  BackendConfig `toml:"primary"`
	Research BackendConfig `toml:"research"`
	Editor   BackendConfig `toml:"editor"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",

		Delivery: DeliveryConfig{
			ChunkLimit: 4096,
		},

		Pipeline: PipelineConfig{
			HistoryWindow: 20,
			ContentCap:    4000,
			PreviewLen:    500,
			EditorEnabled: true,
		},

		Rate: RateConfig{
			PerUserRPS: 1,
			Burst:      3,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatrelay configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatrelay"), nil
}

// DefaultPath returns the default TOML config file path.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from path, layered over defaults and under
// environment overrides. A missing file is not an error: defaults plus
// environment apply. An empty path uses the default location.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.Delivery.ChunkLimit == 0 {
		cfg.Delivery.ChunkLimit = defaults.Delivery.ChunkLimit
	}
	if cfg.Pipeline.HistoryWindow == 0 {
		cfg.Pipeline.HistoryWindow = defaults.Pipeline.HistoryWindow
	}
	if cfg.Pipeline.ContentCap == 0 {
		cfg.Pipeline.ContentCap = defaults.Pipeline.ContentCap
	}
	if cfg.Pipeline.PreviewLen == 0 {
		cfg.Pipeline.PreviewLen = defaults.Pipeline.PreviewLen
	}
	if cfg.Rate.PerUserRPS == 0 {
		cfg.Rate.PerUserRPS = defaults.Rate.PerUserRPS
	}
	if cfg.Rate.Burst == 0 {
		cfg.Rate.Burst = defaults.Rate.Burst
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to a TOML file atomically with
// restrictive permissions. API keys live in this file, so it is
// owner-only, and the atomic write keeps the config watcher from ever
// reloading a half-written file.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# chatrelay configuration file\n")
	buf.WriteString("# Generated by chatrelay - edit with care\n\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
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

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.ListenAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "listen_addr",
			Message: "must not be empty",
		})
	}

	if c.Delivery.ChunkLimit < 64 {
		errs = append(errs, ValidationError{
			Field:   "delivery.chunk_limit",
			Message: fmt.Sprintf("must be at least 64 bytes, got %d", c.Delivery.ChunkLimit),
		})
	}

	if c.Pipeline.HistoryWindow < 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.history_window",
			Message: "must be non-negative",
		})
	}
	if c.Pipeline.ContentCap < 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.content_cap",
			Message: "must be positive",
		})
	}
	if c.Pipeline.PreviewLen < 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.preview_len",
			Message: "must be positive",
		})
	}

	if c.Rate.PerUserRPS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "rate.per_user_rps",
			Message: "must be positive",
		})
	}
	if c.Rate.Burst < 1 {
		errs = append(errs, ValidationError{
			Field:   "rate.burst",
			Message: "must be at least 1",
		})
	}

	for role, b := range map[string]BackendConfig{
		"primary":  c.Backends.Primary,
		"research": c.Backends.Research,
		"editor":   c.Backends.Editor,
	} {
		if b.BaseURL == "" {
			continue
		}
		u, err := url.Parse(b.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   "backends." + role + ".base_url",
				Message: fmt.Sprintf("invalid URL %q", b.BaseURL),
			})
		}
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
//   - CHATRELAY_LISTEN_ADDR: overrides listen_addr
//   - CHATRELAY_DATA_DIR: overrides data_dir
//   - CHATRELAY_CHUNK_LIMIT: overrides delivery.chunk_limit
//   - CHATRELAY_<ROLE>_URL / _KEY / _MODEL: overrides backend settings,
//     where ROLE is PRIMARY, RESEARCH, or EDITOR
func (c *Config) ApplyEnvOverrides() {
	if addr := os.Getenv("CHATRELAY_LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
	if dir := os.Getenv("CHATRELAY_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if limit := os.Getenv("CHATRELAY_CHUNK_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			c.Delivery.ChunkLimit = n
		}
	}

	applyBackendEnv("PRIMARY", &c.Backends.Primary)
	applyBackendEnv("RESEARCH", &c.Backends.Research)
	applyBackendEnv("EDITOR", &c.Backends.Editor)
}

func applyBackendEnv(role string, b *BackendConfig) {
	if v := os.Getenv("CHATRELAY_" + role + "_URL"); v != "" {
		b.BaseURL = v
	}
	if v := os.Getenv("CHATRELAY_" + role + "_KEY"); v != "" {
		b.APIKey = v
	}
	if v := os.Getenv("CHATRELAY_" + role + "_MODEL"); v != "" {
		b.Model = v
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// Clone creates a copy of the configuration. Config holds no reference
// types, so a value copy is a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Redacted returns a copy with API keys masked for logging and debug
// output.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	for _, b := range []*BackendConfig{
		&safe.Backends.Primary,
		&safe.Backends.Research,
		&safe.Backends.Editor,
	} {
		if b.APIKey != "" {
			b.APIKey = "[REDACTED]"
		}
	}
	return safe
}
